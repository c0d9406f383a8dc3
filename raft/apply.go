package raft

import "go.uber.org/zap"

// applyCommitted runs after every handled event: while the state machine's last applied index
// lags commitIndex, it drains the next batch into the state machine, then truncates the log
// against any newly observed snapshot.
func (r *Raft) applyCommitted() {
	for {
		lastApplied := r.stateMachine.GetLastAppliedIndex()
		if lastApplied >= r.commitIndex {
			break
		}

		to := r.commitIndex
		if r.config.ApplyBatchSize > 0 && to-lastApplied > uint64(r.config.ApplyBatchSize) {
			to = lastApplied + uint64(r.config.ApplyBatchSize)
		}

		entries := r.persist.GetLogEntriesBetween(lastApplied+1, to+1)
		if len(entries) == 0 {
			break
		}

		if err := r.stateMachine.ApplyAll(entries); err != nil {
			r.fatal("apply committed entries", zap.Error(err))
			return
		}
		r.metrics.setLastApplied(r.stateMachine.GetLastAppliedIndex())
	}

	snap, ok := r.stateMachine.GetLatestSnapshot()
	if !ok || (r.hasSnapshot && snap.Index <= r.currentSnapshot.Index) {
		return
	}

	if err := r.persist.DeleteLogsUpToAndIncluding(snap); err != nil {
		r.fatal("truncate log against snapshot", zap.Error(err))
		return
	}
	r.currentSnapshot = snap
	r.hasSnapshot = true
	r.logger.Info("truncated log against new snapshot", zap.Uint64("snapshotIndex", snap.Index))
}
