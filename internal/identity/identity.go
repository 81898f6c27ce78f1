// Package identity holds the node identity and listen-address types shared
// by every other package in this module.
package identity

import "fmt"

// Identity is the ordered pair (days_to_birthday, student_id). Lower is
// weaker; the highest-identity live node wins an election.
type Identity struct {
	Days      int
	StudentID int
}

// Greater reports whether id outranks other under the lexicographic
// order: compare Days first, then StudentID breaks ties.
func (id Identity) Greater(other Identity) bool {
	if id.Days != other.Days {
		return id.Days > other.Days
	}
	return id.StudentID > other.StudentID
}

// Equal reports whether id and other name the same candidate.
func (id Identity) Equal(other Identity) bool {
	return id.Days == other.Days && id.StudentID == other.StudentID
}

func (id Identity) String() string {
	return fmt.Sprintf("(%d,%d)", id.Days, id.StudentID)
}

// ListenAddress is the stable key for a peer: the endpoint it accepts
// inbound connections on.
type ListenAddress struct {
	Host string
	Port int
}

func (a ListenAddress) String() string {
	return fmt.Sprintf("%s:%d", a.Host, a.Port)
}
