package payload

import (
	"cmp"
	"errors"
	"fmt"
	"net/netip"
)

var (
	ErrDuplicate = errors.New("payload already present")
	ErrAbsent    = errors.New("payload not present")
)

// Action describes what happened to a payload in a diff.
type Action uint8

const (
	Announce Action = iota
	Withdraw
)

func (a Action) String() string {
	switch a {
	case Announce:
		return "announce"
	case Withdraw:
		return "withdraw"
	default:
		return fmt.Sprintf("action(%d)", uint8(a))
	}
}

// Payload is a single validated route origin record.
type Payload struct {
	Prefix    netip.Prefix `json:"prefix"`
	MaxLength uint8        `json:"max_length"`
	ASN       uint32       `json:"asn"`
}

// Compare orders payloads by prefix, max length and origin AS.
func (p Payload) Compare(other Payload) int {
	if c := p.Prefix.Addr().Compare(other.Prefix.Addr()); c != 0 {
		return c
	}
	if c := cmp.Compare(p.Prefix.Bits(), other.Prefix.Bits()); c != 0 {
		return c
	}
	if c := cmp.Compare(p.MaxLength, other.MaxLength); c != 0 {
		return c
	}
	return cmp.Compare(p.ASN, other.ASN)
}

func (p Payload) String() string {
	return fmt.Sprintf("%s-%d => AS%d", p.Prefix, p.MaxLength, p.ASN)
}

// Serial is the local update counter. Arithmetic wraps around.
type Serial uint32

// Add returns the serial advanced by n.
func (s Serial) Add(n uint32) Serial {
	return Serial(uint32(s) + n)
}

// Update is what a unit publishes after a completed cycle.
//
// Diff is nil when the update replaces the whole set.
type Update struct {
	Serial Serial
	Set    *Set
	Diff   *Diff
}

// NewUpdate creates an update. The set must not be nil.
func NewUpdate(serial Serial, set *Set, diff *Diff) Update {
	return Update{Serial: serial, Set: set, Diff: diff}
}

// IsReset reports whether the update carries no diff.
func (u Update) IsReset() bool {
	return u.Diff == nil
}
