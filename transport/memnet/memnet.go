// Package memnet is an in-memory message dispatcher that routes raft.Message values between
// registered replicas by numeric peer id, standing in for a wire transport kept as an external
// boundary. It is modeled on the labrpc-style network simulators used to test distributed
// protocols in isolation: a single shared, goroutine-safe object that every replica's Dispatcher
// is a thin, id-bound view onto, with optional fault injection for scenario tests.
package memnet

import (
	"math/rand"
	"sync"

	"github.com/quorumkv/raft"
)

// Receiver is the inbound side a replica presents to the network: raft.Raft satisfies this with
// its Deliver method.
type Receiver interface {
	Deliver(msg raft.Message)
}

// Network is the shared message bus. The zero value is not usable; construct with New.
type Network struct {
	mu        sync.Mutex
	receivers map[uint64]Receiver
	dropRate  float64
	rnd       *rand.Rand
}

// New returns an empty network with no fault injection.
func New() *Network {
	return &Network{
		receivers: make(map[uint64]Receiver),
		rnd:       rand.New(rand.NewSource(1)),
	}
}

// Register makes a replica reachable at id. Call it before starting the replica's event loop.
func (n *Network) Register(id uint64, r Receiver) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.receivers[id] = r
}

// Unregister stops delivering messages to id, simulating a crashed or partitioned replica.
func (n *Network) Unregister(id uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	delete(n.receivers, id)
}

// SetDropRate makes the network drop a fraction of messages (0..1) uniformly at random, for
// exercising the protocol's tolerance of dropped messages.
func (n *Network) SetDropRate(rate float64) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dropRate = rate
}

// Dispatcher returns a raft.Dispatcher that sends as replica `from`.
func (n *Network) Dispatcher(from uint64) raft.Dispatcher {
	return &boundDispatcher{net: n, from: from}
}

type boundDispatcher struct {
	net  *Network
	from uint64
}

func (d *boundDispatcher) SendRequest(to uint64, req raft.Message) {
	d.net.send(to, req)
}

func (d *boundDispatcher) SendResponse(to uint64, resp raft.Message) {
	d.net.send(to, resp)
}

func (n *Network) send(to uint64, msg raft.Message) {
	n.mu.Lock()
	receiver, ok := n.receivers[to]
	drop := ok && n.dropRate > 0 && n.rnd.Float64() < n.dropRate
	n.mu.Unlock()

	if !ok || drop {
		return
	}
	// Deliver enqueues on a bounded channel and never blocks the caller (raft.Raft.Deliver),
	// so this can safely run inline rather than spawning a goroutine per message.
	receiver.Deliver(msg)
}
