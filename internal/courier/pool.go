// Package courier implements the outbound courier pool: one independent
// goroutine per outbound send so a slow or dead peer never stalls any
// other exchange or the engine itself. Every send dials with a timeout,
// writes, and for exchanges that expect a reply, reads it back under its
// own deadline.
package courier

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/wire"
)

// Kind identifies which exchange a Result reports on.
type Kind string

const (
	KindElect Kind = "elect"
	KindProbe Kind = "probe"
)

// Result is what a courier worker reports back once its exchange settles.
type Result struct {
	Peer identity.ListenAddress
	Kind Kind
	OK   bool
	Err  error
}

// ResultFunc is invoked by the courier worker goroutine itself once the
// exchange settles — a direct callback rather than a second queue, so
// the engine never has to poll for outcomes.
type ResultFunc func(Result)

// Pool dispatches ELECT, I_AM_LEADER, and PROBE sends to individual
// peers without ever blocking the caller.
type Pool struct {
	connectTimeout time.Duration
	readTimeout    time.Duration
	inhibited      atomic.Bool
}

// New creates a courier pool using connectTimeout for dials and
// readTimeout for the GOT_IT read deadline.
func New(connectTimeout, readTimeout time.Duration) *Pool {
	return &Pool{connectTimeout: connectTimeout, readTimeout: readTimeout}
}

var log = logging.For("courier")

// Inhibit stops all outbound sends from taking effect — used by the
// feigned-failure driver so peers see connection failures exactly as if
// this process had crashed.
func (p *Pool) Inhibit(inhibited bool) {
	p.inhibited.Store(inhibited)
}

// SendElect dials peer, writes an ELECT envelope carrying members, and
// reads the GOT_IT reply under readTimeout. While inhibited it dials
// nothing and reports a failed result. onResult is invoked from the
// worker goroutine once the exchange settles; the call to SendElect
// itself returns immediately.
func (p *Pool) SendElect(peer identity.ListenAddress, members wire.Members, onResult ResultFunc) {
	go p.sendAndExpectReply(peer, wire.TagElect, wire.ElectPayload{Members: members}, KindElect, onResult)
}

// SendProbe dials peer, writes a PROBE envelope, and reads the GOT_IT
// reply under readTimeout.
func (p *Pool) SendProbe(peer identity.ListenAddress, onResult ResultFunc) {
	go p.sendAndExpectReply(peer, wire.TagProbe, nil, KindProbe, onResult)
}

// SendLeader dials peer and writes an I_AM_LEADER envelope. There is no
// reply to wait for.
func (p *Pool) SendLeader(peer identity.ListenAddress, leader identity.Identity) {
	go func() {
		if p.inhibited.Load() {
			return
		}
		conn, err := net.DialTimeout("tcp", peer.String(), p.connectTimeout)
		if err != nil {
			log.Debugf("I_AM_LEADER to %s failed: %v", peer, err)
			return
		}
		defer conn.Close()

		env, err := wire.Encode(wire.TagLeader, wire.LeaderPayload{Leader: leader})
		if err != nil {
			log.Warnf("encode I_AM_LEADER for %s: %v", peer, err)
			return
		}
		if err := wire.WriteEnvelope(conn, env); err != nil {
			log.Debugf("I_AM_LEADER to %s failed: %v", peer, err)
		}
	}()
}

func (p *Pool) sendAndExpectReply(peer identity.ListenAddress, tag string, payload interface{}, kind Kind, onResult ResultFunc) {
	result := Result{Peer: peer, Kind: kind}

	if p.inhibited.Load() {
		result.Err = errTransport("outbound sends inhibited (feigned failure)")
		onResult(result)
		return
	}

	conn, err := net.DialTimeout("tcp", peer.String(), p.connectTimeout)
	if err != nil {
		result.Err = err
		onResult(result)
		return
	}
	defer conn.Close()

	env, err := wire.Encode(tag, payload)
	if err != nil {
		result.Err = err
		onResult(result)
		return
	}
	if err := wire.WriteEnvelope(conn, env); err != nil {
		result.Err = err
		onResult(result)
		return
	}

	if err := conn.SetReadDeadline(time.Now().Add(p.readTimeout)); err != nil {
		result.Err = err
		onResult(result)
		return
	}

	reply, err := wire.ReadReply(conn)
	if err != nil {
		result.Err = err
		onResult(result)
		return
	}

	result.OK = reply == wire.GotIt
	onResult(result)
}

type errTransport string

func (e errTransport) Error() string { return string(e) }
