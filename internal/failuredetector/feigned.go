package failuredetector

import (
	"math/rand"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/bully/node/internal/logging"
)

// FailNode is the subset of node lifecycle control the feigned-failure
// driver needs: stop accepting/sending, then come back on a possibly new
// port and rejoin.
type FailNode interface {
	// Fail stops inbound serving and inhibits outbound couriers, exactly
	// as if the process had crashed.
	Fail()
	// Recover rebinds the listener (possibly to a new port), resets the
	// election engine to IDLE, re-HOWDYs, and starts a fresh election.
	Recover() error
}

// FeignedFailureDriver schedules a fail/recover cycle forever,
// orthogonal to any real failure: the node must behave, to its peers,
// exactly like a process that crashed and was later restarted. Fail and
// recover delays are each drawn from their own randomized window rather
// than a fixed interval.
type FeignedFailureDriver struct {
	node FailNode
	log  *logrus.Entry

	failAfterMin, failAfterMax       time.Duration
	recoverAfterMin, recoverAfterMax time.Duration

	stopOnce sync.Once
	stopCh   chan struct{}
}

// NewFeignedFailureDriver builds a driver with the spec-recommended
// windows: fail at now+rand(0,10s), recover at fail_time+rand(1s,4s).
func NewFeignedFailureDriver(node FailNode) *FeignedFailureDriver {
	return &FeignedFailureDriver{
		node:            node,
		log:             logging.For("feigned-failure"),
		failAfterMin:    0,
		failAfterMax:    10 * time.Second,
		recoverAfterMin: 1 * time.Second,
		recoverAfterMax: 4 * time.Second,
		stopCh:          make(chan struct{}),
	}
}

// Run drives an endless fail/recover cycle until Stop is called.
func (d *FeignedFailureDriver) Run() {
	for {
		if !d.sleep(randBetween(d.failAfterMin, d.failAfterMax)) {
			return
		}

		d.log.Info("feigning failure")
		d.node.Fail()

		if !d.sleep(randBetween(d.recoverAfterMin, d.recoverAfterMax)) {
			return
		}

		d.log.Info("recovering from feigned failure")
		if err := d.node.Recover(); err != nil {
			d.log.Errorf("recovery failed: %v", err)
		}
	}
}

// Stop ends the loop; safe to call more than once.
func (d *FeignedFailureDriver) Stop() {
	d.stopOnce.Do(func() { close(d.stopCh) })
}

// sleep waits for d2 or until Stop is called; returns false if stopped.
func (d *FeignedFailureDriver) sleep(d2 time.Duration) bool {
	select {
	case <-time.After(d2):
		return true
	case <-d.stopCh:
		return false
	}
}

func randBetween(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	return min + time.Duration(rand.Int63n(int64(max-min)))
}
