// Package node wires every other package into the single, explicitly
// owned object a process constructs and runs: the membership table, the
// election engine, the courier pool, the inbound listener, the GCD
// client, and (if enabled) the failure detector and feigned-failure
// driver.
package node

import (
	"net"
	"strconv"
	"sync"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bully/node/internal/config"
	"github.com/bully/node/internal/courier"
	"github.com/bully/node/internal/election"
	"github.com/bully/node/internal/failuredetector"
	"github.com/bully/node/internal/gcdclient"
	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/listener"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/membership"
	"github.com/bully/node/internal/wire"
)

// Node owns every collaborator a running process needs: the membership
// table, the election engine, the courier pool, the inbound listener,
// the GCD client, and (if enabled) the failure detector and
// feigned-failure driver.
type Node struct {
	cfg     *config.Config
	selfID  identity.Identity
	gcdAddr string

	table  *membership.Table
	engine *election.Engine
	pool   *courier.Pool
	log    *logrus.Entry

	// mu guards every field a concurrent Fail/Recover (driven by the
	// feigned-failure driver's own goroutine) can touch while Start/Stop
	// run from the caller's goroutine.
	mu       sync.Mutex
	ln       *listener.Listener
	detector *failuredetector.Detector
	feigned  *failuredetector.FeignedFailureDriver
}

// New constructs a Node from cfg without binding any sockets yet.
func New(cfg *config.Config) *Node {
	selfID := identity.Identity{Days: cfg.Days, StudentID: cfg.StudentID}
	return &Node{
		cfg:     cfg,
		selfID:  selfID,
		gcdAddr: net.JoinHostPort(cfg.GCDHost, strconv.Itoa(cfg.GCDPort)),
		pool:    courier.New(cfg.Timeouts.TConnect, cfg.Timeouts.TBully),
		log:     logging.For("node"),
	}
}

// Start binds the listener, joins via HOWDY, and triggers the initial
// election. On return the node is fully running: the listener is
// serving, the failure detector (and feigned-failure driver, if
// enabled) are running in their own goroutines.
func (n *Node) Start() error {
	ln, err := listener.Bind(n.cfg.ListenHost, n.cfg.ListenPort)
	if err != nil {
		return errors.Wrap(err, "bind listener")
	}
	n.mu.Lock()
	n.ln = ln
	n.mu.Unlock()

	n.table = membership.New(ln.Addr(), n.selfID)
	n.engine = election.New(n.table, n.pool, election.Config{
		TBully:    n.cfg.Timeouts.TBully,
		TFollower: n.cfg.Timeouts.TFollower,
	})
	n.engine.OnBecomeLeader(func() {
		n.log.Infof("became leader as %s", n.selfID)
	})
	n.engine.OnBecomeFollower(func(leader identity.Identity) {
		n.log.Infof("following leader %s", leader)
	})

	go ln.Serve(n.engine)

	if len(n.cfg.StaticPeers) > 0 {
		n.engine.Merge(wire.Members(n.cfg.StaticPeers))
	}

	members, err := n.howdy()
	if err != nil {
		return err
	}
	n.engine.Merge(members)
	n.engine.StartElection()

	detector := failuredetector.New(n.pool, n.engine, n.howdy, n.cfg.Timeouts.TProbeMin, n.cfg.Timeouts.TProbeMax)
	n.mu.Lock()
	n.detector = detector
	n.mu.Unlock()
	go detector.Run()

	if n.cfg.Timeouts.FeignEnabled {
		feigned := failuredetector.NewFeignedFailureDriver(n)
		n.mu.Lock()
		n.feigned = feigned
		n.mu.Unlock()
		go feigned.Run()
	}

	return nil
}

// Stop winds the node down: the failure detector and feigned-failure
// driver stop, and the listener is closed.
func (n *Node) Stop() {
	n.mu.Lock()
	detector, feigned, ln := n.detector, n.feigned, n.ln
	n.mu.Unlock()

	if detector != nil {
		detector.Stop()
	}
	if feigned != nil {
		feigned.Stop()
	}
	if ln != nil {
		ln.Close()
	}
}

// State reports the election engine's current state, for diagnostics.
func (n *Node) State() election.State { return n.engine.State() }

func (n *Node) howdy() (wire.Members, error) {
	n.mu.Lock()
	self := n.ln.Addr()
	n.mu.Unlock()
	return gcdclient.Howdy(n.gcdAddr, n.selfID, self, n.cfg.Timeouts.TBully)
}

// Fail implements failuredetector.FailNode: it makes this process
// indistinguishable, to peers, from a crashed one. A crashed process
// doesn't probe anyone either, so the failure detector stops too.
func (n *Node) Fail() {
	n.pool.Inhibit(true)
	n.mu.Lock()
	ln, detector := n.ln, n.detector
	n.mu.Unlock()
	ln.SetFailed(true)
	if detector != nil {
		detector.Stop()
	}
}

// Recover implements failuredetector.FailNode: it rebinds the listener
// to a fresh port, resets the engine, and rejoins via a new HOWDY and
// election.
func (n *Node) Recover() error {
	newLn, err := listener.Bind(n.cfg.ListenHost, 0)
	if err != nil {
		return errors.Wrap(err, "rebind listener on recovery")
	}

	n.mu.Lock()
	oldLn := n.ln
	n.ln = newLn
	n.mu.Unlock()
	oldLn.Close()

	go newLn.Serve(n.engine)
	n.engine.RebindSelf(newLn.Addr(), n.selfID)
	n.pool.Inhibit(false)

	members, err := n.howdy()
	if err != nil {
		return errors.Wrap(err, "re-HOWDY on recovery")
	}
	n.engine.Merge(members)
	n.engine.StartElection()

	// The detector stopped in Fail; a closed stopCh cannot be reopened,
	// so recovery gets a fresh instance rather than restarting the old.
	detector := failuredetector.New(n.pool, n.engine, n.howdy, n.cfg.Timeouts.TProbeMin, n.cfg.Timeouts.TProbeMax)
	n.mu.Lock()
	n.detector = detector
	n.mu.Unlock()
	go detector.Run()

	return nil
}
