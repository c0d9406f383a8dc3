package raft

import "go.uber.org/zap"

// fatal reports a collaborator failure or invariant violation and halts the event loop. These
// can't happen in a correct implementation, so this logs at Fatal (which terminates the process)
// instead of returning an error the loop might be tempted to swallow.
func (r *Raft) fatal(msg string, fields ...zap.Field) {
	r.logger.Fatal(msg, fields...)
}
