package pseudonym

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/vanetsim/pseudosim/pkg/core"
)

var (
	// ErrOverlap is returned when a new record would overlap an earlier one.
	ErrOverlap = errors.New("pseudonym validity intervals overlap")
	// ErrInUse is returned when a pseudonym is already live for another vehicle.
	ErrInUse = errors.New("pseudonym already in use")
)

// Registry owns every PseudonymRecord and silent interval of a run.
type Registry struct {
	mu      sync.RWMutex
	records map[core.EntityID][]core.PseudonymRecord
	silent  map[core.EntityID][]core.Interval
	owners  map[core.Pseudonym]core.EntityID
	live    map[core.Pseudonym]core.EntityID
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	r := &Registry{}
	r.Reset()
	return r
}

// Reset forgets every record.
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = make(map[core.EntityID][]core.PseudonymRecord)
	r.silent = make(map[core.EntityID][]core.Interval)
	r.owners = make(map[core.Pseudonym]core.EntityID)
	r.live = make(map[core.Pseudonym]core.EntityID)
}

// Open starts a record for p at t, closing the vehicle's current record at t.
func (r *Registry) Open(vehicle core.EntityID, p core.Pseudonym, t core.SimTime) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if owner, ok := r.live[p]; ok && owner != vehicle {
		return fmt.Errorf("%w: %s held by another vehicle", ErrInUse, p)
	}
	recs := r.records[vehicle]
	if n := len(recs); n > 0 {
		last := &recs[n-1]
		if last.From > t || (!last.Open && last.To > t) {
			return fmt.Errorf("%w: vehicle %d record from %d, new from %d", ErrOverlap, vehicle, last.From, t)
		}
		if last.Open {
			last.Open = false
			last.To = t
			delete(r.live, last.Value)
		}
	}
	r.records[vehicle] = append(recs, core.PseudonymRecord{Value: p, Vehicle: vehicle, From: t, Open: true})
	r.owners[p] = vehicle
	r.live[p] = vehicle
	return nil
}

// Close ends the vehicle's current record at t, if any.
func (r *Registry) Close(vehicle core.EntityID, t core.SimTime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	recs := r.records[vehicle]
	if n := len(recs); n > 0 && recs[n-1].Open {
		recs[n-1].Open = false
		recs[n-1].To = t
		delete(r.live, recs[n-1].Value)
	}
}

// Current returns the pseudonym valid for vehicle at t.
func (r *Registry) Current(vehicle core.EntityID, t core.SimTime) (core.Pseudonym, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	recs := r.records[vehicle]
	for i := len(recs) - 1; i >= 0; i-- {
		if recs[i].Covers(t) {
			return recs[i].Value, true
		}
	}
	return 0, false
}

// History returns a copy of the vehicle's records in issue order.
func (r *Registry) History(vehicle core.EntityID) []core.PseudonymRecord {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.PseudonymRecord(nil), r.records[vehicle]...)
}

// Vehicles returns every vehicle that has a record, in ID order.
func (r *Registry) Vehicles() []core.EntityID {
	r.mu.RLock()
	defer r.mu.RUnlock()

	ids := make([]core.EntityID, 0, len(r.records))
	for id := range r.records {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Resolve maps any pseudonym ever issued to its vehicle. Reporting only; the
// attacker never gets access to the registry.
func (r *Registry) Resolve(p core.Pseudonym) (core.EntityID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.owners[p]
	return id, ok
}

// Live reports whether p is the current pseudonym of some vehicle other than except.
func (r *Registry) Live(p core.Pseudonym, except core.EntityID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	owner, ok := r.live[p]
	return ok && owner != except
}

// IssuedSince reports whether p was valid for vehicle at any time at or after since.
func (r *Registry) IssuedSince(vehicle core.EntityID, p core.Pseudonym, since core.SimTime) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, rec := range r.records[vehicle] {
		if rec.Value == p && (rec.Open || rec.To > since) {
			return true
		}
	}
	return false
}

// StartSilence opens a silent interval at t.
func (r *Registry) StartSilence(vehicle core.EntityID, t core.SimTime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ivs := r.silent[vehicle]
	if n := len(ivs); n > 0 && ivs[n-1].Open {
		return
	}
	r.silent[vehicle] = append(ivs, core.Interval{From: t, Open: true})
}

// EndSilence closes the open silent interval at t.
func (r *Registry) EndSilence(vehicle core.EntityID, t core.SimTime) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ivs := r.silent[vehicle]
	if n := len(ivs); n > 0 && ivs[n-1].Open {
		ivs[n-1].Open = false
		ivs[n-1].To = t
	}
}

// SilentIntervals returns a copy of the vehicle's silent intervals.
func (r *Registry) SilentIntervals(vehicle core.EntityID) []core.Interval {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]core.Interval(nil), r.silent[vehicle]...)
}

// SilentAt reports whether vehicle was silent at t.
func (r *Registry) SilentAt(vehicle core.EntityID, t core.SimTime) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, iv := range r.silent[vehicle] {
		if iv.Contains(t) {
			return true
		}
	}
	return false
}

// Verify checks that no vehicle has overlapping records or more than one open record.
func (r *Registry) Verify() error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for vehicle, recs := range r.records {
		open := 0
		for i, rec := range recs {
			if rec.Open {
				open++
			}
			iv := core.Interval{From: rec.From, To: rec.To, Open: rec.Open}
			for _, other := range recs[i+1:] {
				if iv.Overlaps(core.Interval{From: other.From, To: other.To, Open: other.Open}) {
					return fmt.Errorf("%w: vehicle %d pseudonyms %s and %s", ErrOverlap, vehicle, rec.Value, other.Value)
				}
			}
		}
		if open > 1 {
			return fmt.Errorf("vehicle %d has %d open pseudonym records", vehicle, open)
		}
	}
	return nil
}
