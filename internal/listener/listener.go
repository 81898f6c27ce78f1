// Package listener implements the inbound TCP listener and message
// dispatcher: one concurrent handler per accepted connection, so no
// peer's latency is ever visible to any other peer or to the engine.
package listener

import (
	"net"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/wire"
)

// EngineHandler is the subset of the election engine the dispatcher
// drives. Kept as an interface so the listener is testable without a
// real engine.
type EngineHandler interface {
	OnElectReceived(members wire.Members)
	OnLeaderAnnounced(id identity.Identity)
}

// Listener accepts inbound peer connections and dispatches each to the
// engine. It keeps serving while ELECTING — critical, since GOT_IT
// replies and inbound ELECT/I_AM_LEADER arrive precisely while electing.
type Listener struct {
	ln     net.Listener
	addr   identity.ListenAddress
	engine EngineHandler
	log    *logrus.Entry

	failed atomic.Bool
	wg     sync.WaitGroup
}

// Bind opens a TCP listener on host:port (port 0 lets the OS choose).
func Bind(host string, port int) (*Listener, error) {
	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return nil, errors.Wrapf(err, "bind listener on %s:%d", host, port)
	}

	tcpAddr := ln.Addr().(*net.TCPAddr)
	boundHost := host
	if boundHost == "" || boundHost == "0.0.0.0" {
		boundHost = tcpAddr.IP.String()
	}

	return &Listener{
		ln:   ln,
		addr: identity.ListenAddress{Host: boundHost, Port: tcpAddr.Port},
		log:  logging.For("listener"),
	}, nil
}

// Addr returns the address this listener is actually bound to.
func (l *Listener) Addr() identity.ListenAddress { return l.addr }

// SetFailed toggles feigned-failure mode: while true, every accepted
// connection is dropped without reading or replying, exactly as if this
// process had crashed.
func (l *Listener) SetFailed(failed bool) { l.failed.Store(failed) }

// Serve runs the accept loop against engine until the listener is
// closed. It blocks the calling goroutine; callers should run it with
// `go l.Serve(engine)`.
func (l *Listener) Serve(engine EngineHandler) {
	l.engine = engine
	for {
		conn, err := l.ln.Accept()
		if err != nil {
			l.log.Debugf("listener on %s stopped accepting: %v", l.addr, err)
			return
		}
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			l.handleConn(conn)
		}()
	}
}

// Close stops accepting and waits for in-flight handlers to finish.
func (l *Listener) Close() error {
	err := l.ln.Close()
	l.wg.Wait()
	return err
}

func (l *Listener) handleConn(conn net.Conn) {
	defer conn.Close()

	if l.failed.Load() {
		return
	}

	env, err := wire.ReadEnvelope(conn)
	if err != nil {
		l.log.Debugf("decode error from %s: %v", conn.RemoteAddr(), err)
		return
	}

	switch env.Name {
	case wire.TagElect:
		l.dispatchElect(conn, env)
	case wire.TagLeader:
		l.dispatchLeader(env)
	case wire.TagProbe:
		l.dispatchProbe(conn)
	case wire.TagHowdy:
		// Not expected on this listener — this node is not a GCD.
	default:
		l.log.Debugf("unknown message tag %q from %s", env.Name, conn.RemoteAddr())
	}
}

func (l *Listener) dispatchElect(conn net.Conn, env wire.Envelope) {
	var payload wire.ElectPayload
	if err := env.Decode(&payload); err != nil {
		l.log.Debugf("decode ELECT: %v", err)
		return
	}

	// The GOT_IT reply must be written before any engine work that could
	// block or take time.
	if err := wire.WriteGotIt(conn); err != nil {
		l.log.Debugf("reply GOT_IT: %v", err)
		return
	}

	l.engine.OnElectReceived(payload.Members)
}

func (l *Listener) dispatchLeader(env wire.Envelope) {
	var payload wire.LeaderPayload
	if err := env.Decode(&payload); err != nil {
		l.log.Debugf("decode I_AM_LEADER: %v", err)
		return
	}
	l.engine.OnLeaderAnnounced(payload.Leader)
}

func (l *Listener) dispatchProbe(conn net.Conn) {
	if err := wire.WriteGotIt(conn); err != nil {
		l.log.Debugf("reply GOT_IT to PROBE: %v", err)
	}
}
