// Package membership holds the peer table a node learns from the GCD and
// grows from ELECT payloads.
package membership

import "github.com/bully/node/internal/identity"

// Table maps a peer's listen address to its identity, including self. It
// is not internally synchronized: the engine's own lock guards every
// access from outside this package.
type Table struct {
	self    identity.ListenAddress
	entries map[identity.ListenAddress]identity.Identity
}

// New creates a table seeded with just the local node.
func New(self identity.ListenAddress, selfID identity.Identity) *Table {
	return &Table{
		self: self,
		entries: map[identity.ListenAddress]identity.Identity{
			self: selfID,
		},
	}
}

// Merge adds every entry in other not already known by address. Existing
// entries are never overwritten: first-write-wins. Returns the number of
// entries actually added.
func (t *Table) Merge(other map[identity.ListenAddress]identity.Identity) int {
	added := 0
	for addr, id := range other {
		if _, ok := t.entries[addr]; ok {
			continue
		}
		t.entries[addr] = id
		added++
	}
	return added
}

// SelfIdentity returns the identity this table was constructed with.
func (t *Table) SelfIdentity() identity.Identity {
	return t.entries[t.self]
}

// SelfAddress returns the local listen address.
func (t *Table) SelfAddress() identity.ListenAddress {
	return t.self
}

// HigherPeers returns every known peer address whose identity strictly
// outranks self.
func (t *Table) HigherPeers() []identity.ListenAddress {
	self := t.SelfIdentity()
	var out []identity.ListenAddress
	for addr, id := range t.entries {
		if addr == t.self {
			continue
		}
		if id.Greater(self) {
			out = append(out, addr)
		}
	}
	return out
}

// AllExceptSelf returns every known peer address other than self, for
// broadcast.
func (t *Table) AllExceptSelf() []identity.ListenAddress {
	var out []identity.ListenAddress
	for addr := range t.entries {
		if addr == t.self {
			continue
		}
		out = append(out, addr)
	}
	return out
}

// AddressOf returns the listen address currently associated with id, if
// any peer in the table holds that identity. Used by the failure
// detector to resolve the current leader's identity back to an address
// to PROBE.
func (t *Table) AddressOf(id identity.Identity) (identity.ListenAddress, bool) {
	for addr, candidate := range t.entries {
		if candidate.Equal(id) {
			return addr, true
		}
	}
	return identity.ListenAddress{}, false
}

// Snapshot returns a copy of the full table, suitable for sending as an
// ELECT payload without exposing the live map to callers outside the
// engine lock.
func (t *Table) Snapshot() map[identity.ListenAddress]identity.Identity {
	out := make(map[identity.ListenAddress]identity.Identity, len(t.entries))
	for addr, id := range t.entries {
		out[addr] = id
	}
	return out
}

// Len reports how many peers (including self) are known.
func (t *Table) Len() int {
	return len(t.entries)
}

// ResetSelf replaces the local listen address, used after a feigned-failure
// recovery rebinds to a new port. Every existing entry, the old self entry
// included, is dropped; the table holds only the new self entry until the
// next HOWDY/merge repopulates it.
func (t *Table) ResetSelf(newSelf identity.ListenAddress, selfID identity.Identity) {
	t.self = newSelf
	t.entries = map[identity.ListenAddress]identity.Identity{
		newSelf: selfID,
	}
}
