// Package id implements the identifier types used throughout the event
// fabric: 96-bit opaque ids for domain entities (spec §3), hex-encoded the
// way the teacher's types.Uid is text-encoded, plus a 128-bit session id
// backed by github.com/google/uuid.
package id

import (
	"crypto/rand"
	"database/sql/driver"
	"encoding/hex"
	"errors"

	"github.com/google/uuid"
)

// Size is the length in bytes of a domain identifier (96 bits).
const Size = 12

// ID is a 96-bit opaque identifier shared by TalkId, MessageId and
// ContactId (spec §3); UserSub is a separate string type (model.UserSub).
// The zero value is the "empty" id.
type ID [Size]byte

// Nil is the zero-value ID, used to signal "absent" the way teacher's
// types.ZeroUid does.
var Nil ID

// New generates a fresh random ID.
func New() ID {
	var out ID
	if _, err := rand.Read(out[:]); err != nil {
		// crypto/rand.Read on the standard reader does not fail in
		// practice; a failure here indicates a broken host entropy
		// source, which is unrecoverable.
		panic("id: failed to read random bytes: " + err.Error())
	}
	return out
}

// IsNil reports whether id is the zero value.
func (i ID) IsNil() bool { return i == Nil }

func (i ID) String() string { return hex.EncodeToString(i[:]) }

// Parse decodes a hex-encoded ID previously produced by String.
func Parse(s string) (ID, error) {
	var out ID
	b, err := hex.DecodeString(s)
	if err != nil {
		return out, err
	}
	if len(b) != Size {
		return out, errors.New("id: invalid length")
	}
	copy(out[:], b)
	return out, nil
}

// MustParse panics on a malformed id; reserved for literals in tests.
func MustParse(s string) ID {
	out, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return out
}

func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

func (i *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer so an ID can be written through any
// database/sql based adapter as a plain hex string. The Mongo driver's BSON
// encoder does not use this method.
func (i ID) Value() (driver.Value, error) { return i.String(), nil }

// SessionID is a 128-bit random session identifier (spec §3). uuid.NewString
// already gives us a cryptographically random v4 UUID, which is exactly the
// bit width the spec asks for.
type SessionID string

// NewSessionID generates a fresh session id.
func NewSessionID() SessionID {
	return SessionID(uuid.NewString())
}

func (s SessionID) String() string { return string(s) }

// IsNil reports whether s is the empty session id.
func (s SessionID) IsNil() bool { return s == "" }
