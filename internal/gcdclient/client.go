// Package gcdclient implements the HOWDY exchange with the Group
// Coordinator Daemon: the client side this node uses to join and
// re-join a group. The GCD process itself lives outside this module.
package gcdclient

import (
	"net"
	"time"

	"github.com/pkg/errors"

	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/logging"
	"github.com/bully/node/internal/wire"
)

var log = logging.For("gcd-client")

// ErrUnreachable wraps any failure to complete a HOWDY round trip.
type ErrUnreachable struct {
	cause error
}

func (e *ErrUnreachable) Error() string { return "GCD unreachable: " + e.cause.Error() }
func (e *ErrUnreachable) Unwrap() error { return e.cause }

// Howdy dials gcdAddr, sends a HOWDY request for self, and returns the
// membership mapping the GCD replies with.
func Howdy(gcdAddr string, self identity.Identity, listenAddr identity.ListenAddress, timeout time.Duration) (wire.Members, error) {
	conn, err := net.DialTimeout("tcp", gcdAddr, timeout)
	if err != nil {
		return nil, &ErrUnreachable{cause: errors.Wrapf(err, "dial GCD %s", gcdAddr)}
	}
	defer conn.Close()

	env, err := wire.Encode(wire.TagHowdy, wire.HowdyRequest{Identity: self, ListenAddr: listenAddr})
	if err != nil {
		return nil, &ErrUnreachable{cause: err}
	}
	if err := wire.WriteEnvelope(conn, env); err != nil {
		return nil, &ErrUnreachable{cause: err}
	}

	if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
		return nil, &ErrUnreachable{cause: err}
	}

	members, err := wire.ReadMembers(conn)
	if err != nil {
		return nil, &ErrUnreachable{cause: errors.Wrap(err, "read HOWDY response")}
	}

	log.Infof("HOWDY to %s returned %d members", gcdAddr, len(members))
	return members, nil
}
