// Package wire implements the tagged-pair codec used for every peer and
// GCD exchange: a (name, payload) envelope, gob-encoded, one per TCP
// connection. Replies to ELECT and PROBE are the bare string "GOT_IT",
// never wrapped in an envelope.
package wire

import (
	"bytes"
	"encoding/gob"
	"io"

	"github.com/pkg/errors"

	"github.com/bully/node/internal/identity"
)

// Message tags.
const (
	TagHowdy  = "HOWDY"
	TagElect  = "ELECT"
	TagLeader = "I_AM_LEADER"
	TagProbe  = "PROBE"
)

// GotIt is the bare acknowledgement string for ELECT and PROBE replies.
const GotIt = "GOT_IT"

// Members is the wire shape shared by a HOWDY response and an ELECT
// payload: the full membership mapping.
type Members map[identity.ListenAddress]identity.Identity

// HowdyRequest is the payload of a HOWDY message sent to the GCD.
type HowdyRequest struct {
	Identity   identity.Identity
	ListenAddr identity.ListenAddress
}

// ElectPayload is the payload of an ELECT message.
type ElectPayload struct {
	Members Members
}

// LeaderPayload is the payload of an I_AM_LEADER message.
type LeaderPayload struct {
	Leader identity.Identity
}

// Envelope is the (name, payload) pair written to the wire for every
// tagged message. Payload is itself a gob-encoded tag-specific struct so
// that decoding the envelope never requires knowing the tag in advance.
type Envelope struct {
	Name    string
	Payload []byte
}

// Encode gob-encodes payload into an Envelope tagged with name.
func Encode(name string, payload interface{}) (Envelope, error) {
	if payload == nil {
		return Envelope{Name: name}, nil
	}
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(payload); err != nil {
		return Envelope{}, errors.Wrapf(err, "encode %s payload", name)
	}
	return Envelope{Name: name, Payload: buf.Bytes()}, nil
}

// Decode gob-decodes the envelope's payload into v.
func (e Envelope) Decode(v interface{}) error {
	if len(e.Payload) == 0 {
		return nil
	}
	if err := gob.NewDecoder(bytes.NewReader(e.Payload)).Decode(v); err != nil {
		return errors.Wrapf(err, "decode %s payload", e.Name)
	}
	return nil
}

// WriteEnvelope writes a single tagged message to w.
func WriteEnvelope(w io.Writer, env Envelope) error {
	if err := gob.NewEncoder(w).Encode(&env); err != nil {
		return errors.Wrap(err, "write envelope")
	}
	return nil
}

// ReadEnvelope reads a single tagged message from r.
func ReadEnvelope(r io.Reader) (Envelope, error) {
	var env Envelope
	if err := gob.NewDecoder(r).Decode(&env); err != nil {
		return Envelope{}, errors.Wrap(err, "read envelope")
	}
	return env, nil
}

// WriteGotIt writes the bare "GOT_IT" acknowledgement string to w, not
// wrapped in an Envelope.
func WriteGotIt(w io.Writer) error {
	if err := gob.NewEncoder(w).Encode(GotIt); err != nil {
		return errors.Wrap(err, "write GOT_IT")
	}
	return nil
}

// ReadReply reads a bare reply string from r (the GOT_IT acknowledgement).
func ReadReply(r io.Reader) (string, error) {
	var s string
	if err := gob.NewDecoder(r).Decode(&s); err != nil {
		return "", errors.Wrap(err, "read reply")
	}
	return s, nil
}

// WriteMembers writes a bare Members mapping to w (used for the HOWDY
// response, which is not wrapped in a tagged envelope).
func WriteMembers(w io.Writer, members Members) error {
	if err := gob.NewEncoder(w).Encode(members); err != nil {
		return errors.Wrap(err, "write members")
	}
	return nil
}

// ReadMembers reads a bare Members mapping from r.
func ReadMembers(r io.Reader) (Members, error) {
	var members Members
	if err := gob.NewDecoder(r).Decode(&members); err != nil {
		return nil, errors.Wrap(err, "read members")
	}
	return members, nil
}
