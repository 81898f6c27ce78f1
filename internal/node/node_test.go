package node

import (
	"net"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/bully/node/internal/config"
	"github.com/bully/node/internal/election"
	"github.com/bully/node/internal/identity"
	"github.com/bully/node/internal/wire"
)

// fakeGCD is a minimal stand-in for the Group Coordinator Daemon: it
// remembers every HOWDY it has seen and always replies with the full
// registry, including the caller's own just-registered entry.
type fakeGCD struct {
	mu   sync.Mutex
	reg  wire.Members
	ln   net.Listener
}

func startFakeGCD(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { ln.Close() })

	g := &fakeGCD{reg: wire.Members{}, ln: ln}
	go g.serve(t)
	return ln.Addr().String()
}

func (g *fakeGCD) serve(t *testing.T) {
	for {
		conn, err := g.ln.Accept()
		if err != nil {
			return
		}
		go func() {
			defer conn.Close()
			env, err := wire.ReadEnvelope(conn)
			if err != nil || env.Name != wire.TagHowdy {
				return
			}
			var req wire.HowdyRequest
			if err := env.Decode(&req); err != nil {
				return
			}

			g.mu.Lock()
			g.reg[req.ListenAddr] = req.Identity
			snapshot := make(wire.Members, len(g.reg))
			for k, v := range g.reg {
				snapshot[k] = v
			}
			g.mu.Unlock()

			_ = wire.WriteMembers(conn, snapshot)
		}()
	}
}

func testConfig(t *testing.T, gcdAddr string, days, studentID int) *config.Config {
	t.Helper()
	host, portStr, err := net.SplitHostPort(gcdAddr)
	require.NoError(t, err)
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	return &config.Config{
		GCDHost:    host,
		GCDPort:    port,
		Days:       days,
		StudentID:  studentID,
		ListenHost: "127.0.0.1",
		ListenPort: 0,
		Timeouts: config.TimeoutConfig{
			TBully:    60 * time.Millisecond,
			TFollower: 150 * time.Millisecond,
			TConnect:  40 * time.Millisecond,
			TProbeMin: time.Hour,
			TProbeMax: 2 * time.Hour,
		},
	}
}

func TestTwoNodesConvergeOnHigherIdentityAsLeader(t *testing.T) {
	gcdAddr := startFakeGCD(t)

	lowNode := New(testConfig(t, gcdAddr, 5, 1))
	require.NoError(t, lowNode.Start())
	defer lowNode.Stop()

	require.Eventually(t, func() bool { return lowNode.State() == election.StateLeader }, time.Second, 5*time.Millisecond)

	highNode := New(testConfig(t, gcdAddr, 20, 2))
	require.NoError(t, highNode.Start())
	defer highNode.Stop()

	require.Eventually(t, func() bool { return highNode.State() == election.StateLeader }, time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return lowNode.State() == election.StateFollower }, time.Second, 5*time.Millisecond)

	leader, ok := lowNode.engine.CurrentLeader()
	require.True(t, ok)
	require.Equal(t, identity.Identity{Days: 20, StudentID: 2}, leader)
}

func TestFailAndRecoverRebindsAndRejoins(t *testing.T) {
	gcdAddr := startFakeGCD(t)
	n := New(testConfig(t, gcdAddr, 10, 1))
	require.NoError(t, n.Start())
	defer n.Stop()

	require.Eventually(t, func() bool { return n.State() == election.StateLeader }, time.Second, 5*time.Millisecond)

	oldAddr := n.ln.Addr()
	n.Fail()

	// A feigned-failure node must not reply to peers at all.
	conn, err := net.DialTimeout("tcp", oldAddr.String(), time.Second)
	require.NoError(t, err)
	env, err := wire.Encode(wire.TagProbe, nil)
	require.NoError(t, err)
	require.NoError(t, wire.WriteEnvelope(conn, env))
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(100*time.Millisecond)))
	_, err = wire.ReadReply(conn)
	require.Error(t, err)
	conn.Close()

	require.NoError(t, n.Recover())

	newAddr := n.ln.Addr()
	require.NotEqual(t, oldAddr, newAddr, "recovery must rebind to a new port")
	require.Eventually(t, func() bool { return n.State() == election.StateLeader }, time.Second, 5*time.Millisecond)
}
