// pkg/core/pseudonym.go
package core

import (
	"fmt"
	"strconv"
)

// Pseudonym is the rotating public identifier a vehicle transmits.
// Zero is never issued.
type Pseudonym uint64

func (p Pseudonym) String() string {
	return fmt.Sprintf("%016x", uint64(p))
}

// MarshalText renders the pseudonym as hex so JSON map keys stay readable.
func (p Pseudonym) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses the hex form produced by MarshalText.
func (p *Pseudonym) UnmarshalText(b []byte) error {
	v, err := strconv.ParseUint(string(b), 16, 64)
	if err != nil {
		return fmt.Errorf("invalid pseudonym %q: %w", string(b), err)
	}
	*p = Pseudonym(v)
	return nil
}

// PseudonymRecord is the validity interval [From, To) of one pseudonym.
// Vehicle is a lookup key only; records do not own vehicles.
type PseudonymRecord struct {
	Value   Pseudonym `json:"pseudonym"`
	Vehicle EntityID  `json:"-"`
	From    SimTime   `json:"from"`
	To      SimTime   `json:"to"`
	Open    bool      `json:"open"`
}

// Covers reports whether the record was current at t.
func (r PseudonymRecord) Covers(t SimTime) bool {
	if t < r.From {
		return false
	}
	return r.Open || t < r.To
}

// Interval is a half-open span of simulated time.
type Interval struct {
	From SimTime `json:"from"`
	To   SimTime `json:"to"`
	Open bool    `json:"open"`
}

// Contains reports whether t falls inside the interval.
func (i Interval) Contains(t SimTime) bool {
	if t < i.From {
		return false
	}
	return i.Open || t < i.To
}

// Overlaps reports whether two intervals share any instant.
func (i Interval) Overlaps(o Interval) bool {
	iEnd, oEnd := i.To, o.To
	if i.Open {
		iEnd = SimTime(1<<62 - 1)
	}
	if o.Open {
		oEnd = SimTime(1<<62 - 1)
	}
	return i.From < oEnd && o.From < iEnd
}
