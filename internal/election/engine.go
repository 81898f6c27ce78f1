// Package election implements the Bully leader-election state machine:
// the per-node engine that owns "election in progress", "current
// leader", and decides when to emit I_AM_LEADER. A single lock guards
// state/currentLeader/election bookkeeping together so state transitions
// never interleave, and socket I/O always happens outside that lock.
package election

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bully/node/internal/courier"
	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/membership"
	"github.com/bully/node/internal/wire"
)

// State is one of the four states an election can be in.
type State int32

const (
	StateIdle State = iota
	StateElecting
	StateLeader
	StateFollower
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateElecting:
		return "ELECTING"
	case StateLeader:
		return "LEADER"
	case StateFollower:
		return "FOLLOWER"
	default:
		return "UNKNOWN"
	}
}

// Sender is the outbound side the engine needs; courier.Pool satisfies
// it. Kept as an interface so the engine can be tested without real
// sockets.
type Sender interface {
	SendElect(peer identity.ListenAddress, members wire.Members, onResult courier.ResultFunc)
	SendLeader(peer identity.ListenAddress, leader identity.Identity)
}

// Config bundles the engine's overridable timeouts.
type Config struct {
	TBully    time.Duration
	TFollower time.Duration
}

// Engine is the election state machine for one node. It is an explicitly
// owned, constructed value rather than a package-level singleton, so a
// process can run more than one in tests without shared global state.
type Engine struct {
	mu sync.Mutex

	table  *membership.Table
	sender Sender
	cfg    Config
	log    *logrus.Entry

	state         State
	currentLeader *identity.Identity

	electionGen uint64
	timer       *time.Timer
	followerTmr *time.Timer

	onBecomeLeader   func()
	onBecomeFollower func(leader identity.Identity)
}

// New creates an Engine in the initial IDLE state.
func New(table *membership.Table, sender Sender, cfg Config) *Engine {
	return &Engine{
		table:  table,
		sender: sender,
		cfg:    cfg,
		log:    logging.For("election"),
		state:  StateIdle,
	}
}

// OnBecomeLeader registers a callback invoked (outside the engine lock)
// every time this node transitions into LEADER.
func (e *Engine) OnBecomeLeader(fn func()) { e.onBecomeLeader = fn }

// OnBecomeFollower registers a callback invoked (outside the engine lock)
// every time this node adopts a leader other than itself.
func (e *Engine) OnBecomeFollower(fn func(leader identity.Identity)) { e.onBecomeFollower = fn }

// State returns the current state.
func (e *Engine) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

// CurrentLeader returns the known leader, if any.
func (e *Engine) CurrentLeader() (identity.Identity, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentLeader == nil {
		return identity.Identity{}, false
	}
	return *e.currentLeader, true
}

// StartElection begins a new election: snapshots membership, computes
// the higher-peer set H, and either becomes LEADER immediately (H empty)
// or dispatches ELECT to every peer in H and arms the election deadline.
// It returns as soon as the workers are dispatched, never waiting on any
// of them to complete.
func (e *Engine) StartElection() {
	e.mu.Lock()
	e.electionGen++
	gen := e.electionGen
	e.cancelTimersLocked()
	e.state = StateElecting
	e.currentLeader = nil

	higher := e.table.HigherPeers()
	members := e.table.Snapshot()
	self := e.table.SelfIdentity()

	e.log.Infof("starting election gen=%d self=%s higher_peers=%d", gen, self, len(higher))

	if len(higher) == 0 {
		peers, became := e.becomeLeaderLocked(gen)
		e.mu.Unlock()
		if became {
			e.afterBecameLeader(peers)
		}
		return
	}

	e.timer = time.AfterFunc(e.cfg.TBully, func() { e.onElectionDeadline(gen) })
	e.mu.Unlock()

	for _, peer := range higher {
		peer := peer
		e.sender.SendElect(peer, wire.Members(members), func(res courier.Result) {
			e.handleCourierResult(gen, res)
		})
	}
}

// OnElectReceived merges the sender's membership view into ours. The
// GOT_IT reply itself is the dispatcher's responsibility and must already
// have been written before this is called. If we were already ELECTING,
// this must NOT start a second one — that would touch off an election
// storm. Otherwise it triggers a fresh election.
func (e *Engine) OnElectReceived(members wire.Members) {
	e.mu.Lock()
	e.table.Merge(members)
	wasElecting := e.state == StateElecting
	e.mu.Unlock()

	if !wasElecting {
		e.StartElection()
	}
}

// OnLeaderAnnounced adopts id as the current leader. Accepted even if id
// is lower than self: the next PROBE cycle will self-heal if the
// announcement was stale or wrong.
func (e *Engine) OnLeaderAnnounced(id identity.Identity) {
	e.mu.Lock()
	e.electionGen++
	e.cancelTimersLocked()

	leader := id
	e.currentLeader = &leader
	self := e.table.SelfIdentity()

	if id.Equal(self) {
		e.state = StateLeader
		e.mu.Unlock()
		if e.onBecomeLeader != nil {
			e.onBecomeLeader()
		}
		return
	}

	e.state = StateFollower
	e.armFollowerTimeoutLocked()
	e.mu.Unlock()

	if e.onBecomeFollower != nil {
		e.onBecomeFollower(id)
	}
}

// LeaderAddress resolves the current leader's identity back to a listen
// address via the membership table, for the failure detector's PROBE
// target. The second return is false if there is no known leader or its
// address has not been learned.
func (e *Engine) LeaderAddress() (identity.ListenAddress, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.currentLeader == nil {
		return identity.ListenAddress{}, false
	}
	return e.table.AddressOf(*e.currentLeader)
}

// IsSelfLeader reports whether this node is currently its own leader.
func (e *Engine) IsSelfLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state == StateLeader
}

// Merge folds members into the membership table under the engine lock,
// without touching election state. Used by the failure detector after a
// re-HOWDY, before it calls StartElection.
func (e *Engine) Merge(members wire.Members) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table.Merge(members)
}

// Reset returns the engine to IDLE, invalidating any in-flight election
// bookkeeping. The membership table is left untouched; RebindSelf is the
// variant that also replaces the self address.
func (e *Engine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.electionGen++
	e.cancelTimersLocked()
	e.state = StateIdle
	e.currentLeader = nil
}

// RebindSelf replaces the table's self address (feigned-failure recovery
// may land on a new port) and returns the engine to IDLE, all under the
// same lock acquisition — the table must never be touched outside it.
func (e *Engine) RebindSelf(newSelf identity.ListenAddress, selfID identity.Identity) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.table.ResetSelf(newSelf, selfID)
	e.electionGen++
	e.cancelTimersLocked()
	e.state = StateIdle
	e.currentLeader = nil
}

func (e *Engine) handleCourierResult(gen uint64, res courier.Result) {
	if res.Kind != courier.KindElect {
		return
	}
	e.mu.Lock()
	if gen != e.electionGen || e.state != StateElecting {
		e.mu.Unlock()
		return
	}
	if !res.OK {
		e.mu.Unlock()
		return
	}

	e.log.Infof("gen=%d received GOT_IT from %s, yielding to FOLLOWER", gen, res.Peer)
	e.cancelTimersLocked()
	e.state = StateFollower
	e.armFollowerTimeoutLocked()
	e.mu.Unlock()
}

func (e *Engine) onElectionDeadline(gen uint64) {
	e.mu.Lock()
	peers, became := e.becomeLeaderLocked(gen)
	e.mu.Unlock()
	if became {
		e.afterBecameLeader(peers)
	}
}

// becomeLeaderLocked performs the ELECTING -> LEADER transition exactly
// once per election (guarded by gen + state check). became is false if
// the transition did not happen (stale generation, or already past
// ELECTING).
func (e *Engine) becomeLeaderLocked(gen uint64) (peers []identity.ListenAddress, became bool) {
	if gen != e.electionGen || e.state != StateElecting {
		return nil, false
	}
	self := e.table.SelfIdentity()
	e.state = StateLeader
	e.currentLeader = &self
	e.cancelTimersLocked()

	e.log.Infof("gen=%d became LEADER (%s)", gen, self)

	return e.table.AllExceptSelf(), true
}

// afterBecameLeader runs the leader-transition side effects once the
// engine lock has been released: broadcasting I_AM_LEADER and notifying
// the registered callback.
func (e *Engine) afterBecameLeader(peers []identity.ListenAddress) {
	e.mu.Lock()
	self := e.table.SelfIdentity()
	e.mu.Unlock()

	for _, peer := range peers {
		e.sender.SendLeader(peer, self)
	}
	if e.onBecomeLeader != nil {
		e.onBecomeLeader()
	}
}

func (e *Engine) armFollowerTimeoutLocked() {
	gen := e.electionGen
	if e.followerTmr != nil {
		e.followerTmr.Stop()
	}
	e.followerTmr = time.AfterFunc(e.cfg.TFollower, func() { e.onFollowerTimeout(gen) })
}

func (e *Engine) onFollowerTimeout(gen uint64) {
	e.mu.Lock()
	if gen != e.electionGen || e.state != StateFollower {
		e.mu.Unlock()
		return
	}
	e.log.Infof("gen=%d follower timeout with no I_AM_LEADER, restarting election", gen)
	e.mu.Unlock()
	e.StartElection()
}

func (e *Engine) cancelTimersLocked() {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.followerTmr != nil {
		e.followerTmr.Stop()
		e.followerTmr = nil
	}
}
