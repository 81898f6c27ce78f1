package identity

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIdentityGreater(t *testing.T) {
	a := Identity{Days: 10, StudentID: 100}
	b := Identity{Days: 5, StudentID: 200}
	require.True(t, a.Greater(b))
	require.False(t, b.Greater(a))
}

func TestIdentityGreaterTieBreak(t *testing.T) {
	a := Identity{Days: 10, StudentID: 100}
	b := Identity{Days: 10, StudentID: 200}
	require.True(t, b.Greater(a))
	require.False(t, a.Greater(b))
}

func TestIdentityEqual(t *testing.T) {
	a := Identity{Days: 10, StudentID: 100}
	b := Identity{Days: 10, StudentID: 100}
	require.True(t, a.Equal(b))
	require.False(t, a.Greater(b))
	require.False(t, b.Greater(a))
}

func TestListenAddressString(t *testing.T) {
	addr := ListenAddress{Host: "10.0.0.1", Port: 4321}
	require.Equal(t, "10.0.0.1:4321", addr.String())
}
