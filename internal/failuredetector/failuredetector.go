// Package failuredetector implements the optional probing tier: a loop
// that PROBEs the current leader and triggers re-HOWDY plus a fresh
// election on failure. Probing runs through the courier pool's
// fire-and-forget send and reports back through a callback rather than
// blocking on a synchronous check.
package failuredetector

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bully/node/internal/courier"
	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/wire"
)

// Engine is the subset of the election engine the detector drives.
type Engine interface {
	LeaderAddress() (identity.ListenAddress, bool)
	IsSelfLeader() bool
	Merge(members wire.Members)
	StartElection()
}

// Prober is the subset of the courier pool the detector needs.
type Prober interface {
	SendProbe(peer identity.ListenAddress, onResult courier.ResultFunc)
}

// Rejoiner re-HOWDYs the GCD, returning a fresh membership view.
type Rejoiner func() (wire.Members, error)

// Detector runs the PROBE loop against the current leader. It is a
// passive watcher: it never decides state on its own, only calls back
// into the engine.
type Detector struct {
	prober   Prober
	engine   Engine
	rejoin   Rejoiner
	minSleep time.Duration
	maxSleep time.Duration
	log      *logrus.Entry

	stopOnce sync.Once
	stopCh   chan struct{}
}

// New creates a Detector. minSleep/maxSleep bound the randomized delay
// between successive PROBEs.
func New(prober Prober, engine Engine, rejoin Rejoiner, minSleep, maxSleep time.Duration) *Detector {
	return &Detector{
		prober:   prober,
		engine:   engine,
		rejoin:   rejoin,
		minSleep: minSleep,
		maxSleep: maxSleep,
		log:      logging.For("failure-detector"),
		stopCh:   make(chan struct{}),
	}
}

// Run drives the PROBE loop until Stop is called. Intended to run in its
// own goroutine for the lifetime of the node.
func (d *Detector) Run() {
	for {
		select {
		case <-d.stopCh:
			return
		case <-time.After(d.randomSleep()):
		}

		if d.engine.IsSelfLeader() {
			continue // nothing to probe: we are the leader
		}

		leader, ok := d.engine.LeaderAddress()
		if !ok {
			continue // no leader known yet, or its address hasn't been learned
		}

		d.probe(leader)
	}
}

// Stop ends the loop; safe to call more than once.
func (d *Detector) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

func (d *Detector) probe(leader identity.ListenAddress) {
	done := make(chan courier.Result, 1)
	d.prober.SendProbe(leader, func(res courier.Result) { done <- res })

	select {
	case res := <-done:
		if res.OK {
			return
		}
		d.log.Warnf("leader %s did not respond to PROBE: %v", leader, res.Err)
	case <-d.stopCh:
		return
	}

	d.onLeaderUnreachable()
}

func (d *Detector) onLeaderUnreachable() {
	members, err := d.rejoin()
	if err != nil {
		d.log.Warnf("re-HOWDY after lost leader failed: %v", err)
		return
	}
	d.engine.Merge(members)
	d.engine.StartElection()
}

func (d *Detector) randomSleep() time.Duration {
	span := d.maxSleep - d.minSleep
	if span <= 0 {
		return d.minSleep
	}
	return d.minSleep + time.Duration(rand.Int63n(int64(span)))
}
