// Package spatial partitions the map into a grid of regions for proximity queries.
package spatial

import (
	"fmt"
	"sort"
	"sync"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// MinRegionSize is the smallest accepted region edge.
const MinRegionSize = config.MinRegionSize

// Entity is anything the index can hold.
type Entity interface {
	EntityID() core.EntityID
	EntityKind() core.EntityKind
}

type entry struct {
	entity Entity
	pos    core.Position
	key    RegionKey
}

// Index is a grid of regions over the map. It is safe for concurrent use;
// Move relocates an entity under the write lock so queries never observe it
// in zero or two regions.
type Index struct {
	mu      sync.RWMutex
	grid    *grid
	entries map[core.EntityID]*entry
}

func regionTooSmall(w, h float64) error {
	return &config.ConfigurationError{
		Field:  "simulation.regionWidth/regionHeight",
		Reason: fmt.Sprintf("region %gx%g below minimum %g", w, h, MinRegionSize),
		Err:    ErrRegionTooSmall,
	}
}

// New creates an index over bounds with the given region size.
func New(bounds core.Rect, regionW, regionH float64) (*Index, error) {
	g, err := newGrid(bounds, regionW, regionH)
	if err != nil {
		return nil, err
	}
	return &Index{
		grid:    g,
		entries: make(map[core.EntityID]*entry),
	}, nil
}

// Bounds returns the indexed map rectangle.
func (ix *Index) Bounds() core.Rect {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.grid.bounds
}

// Insert adds e at pos.
func (ix *Index) Insert(e Entity, pos core.Position) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	id := e.EntityID()
	if _, exists := ix.entries[id]; exists {
		return fmt.Errorf("insert %d: %w", id, ErrDuplicateEntity)
	}
	key, ok := ix.grid.keyOf(pos)
	if !ok {
		return &OutOfBoundsError{ID: id, Position: pos, Bounds: ix.grid.bounds}
	}
	ix.entries[id] = &entry{entity: e, pos: pos, key: key}
	ix.grid.region(key).members[id] = e
	return nil
}

// Remove deletes the entity with the given ID.
func (ix *Index) Remove(id core.EntityID) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	en, ok := ix.entries[id]
	if !ok {
		return fmt.Errorf("remove %d: %w", id, ErrUnknownEntity)
	}
	delete(ix.grid.region(en.key).members, id)
	delete(ix.entries, id)
	return nil
}

// Move relocates an entity. On error the entity keeps its previous position.
func (ix *Index) Move(id core.EntityID, pos core.Position) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.moveLocked(id, pos)
}

// MoveBatch applies several moves under one write lock. Every move is checked
// first; on error the index is unchanged.
func (ix *Index) MoveBatch(moves map[core.EntityID]core.Position) error {
	ids := make([]core.EntityID, 0, len(moves))
	for id := range moves {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	ix.mu.Lock()
	defer ix.mu.Unlock()
	for _, id := range ids {
		if err := ix.checkMoveLocked(id, moves[id]); err != nil {
			return err
		}
	}
	for _, id := range ids {
		if err := ix.moveLocked(id, moves[id]); err != nil {
			return err
		}
	}
	return nil
}

func (ix *Index) checkMoveLocked(id core.EntityID, pos core.Position) error {
	if _, ok := ix.entries[id]; !ok {
		return fmt.Errorf("move %d: %w", id, ErrUnknownEntity)
	}
	if _, ok := ix.grid.keyOf(pos); !ok {
		return &OutOfBoundsError{ID: id, Position: pos, Bounds: ix.grid.bounds}
	}
	return nil
}

func (ix *Index) moveLocked(id core.EntityID, pos core.Position) error {
	if err := ix.checkMoveLocked(id, pos); err != nil {
		return err
	}
	en := ix.entries[id]
	key, _ := ix.grid.keyOf(pos)
	if key != en.key {
		delete(ix.grid.region(en.key).members, id)
		ix.grid.region(key).members[id] = en.entity
		en.key = key
	}
	en.pos = pos
	return nil
}

// Query returns every entity inside r (edges included), sorted by ID.
// Optional kinds restrict the result.
func (ix *Index) Query(r core.Rect, kinds ...core.EntityKind) []Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.collect(r, kinds, func(en *entry) bool { return r.Contains(en.pos) })
}

// NeighborsWithinRadius returns every entity within radius of pos, sorted by ID.
func (ix *Index) NeighborsWithinRadius(pos core.Position, radius float64, kinds ...core.EntityKind) []Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	return ix.collect(core.RectAround(pos, radius), kinds, func(en *entry) bool {
		return en.pos.Distance(pos) <= radius
	})
}

func (ix *Index) collect(r core.Rect, kinds []core.EntityKind, keep func(*entry) bool) []Entity {
	lo, hi, ok := ix.grid.span(r)
	if !ok {
		return nil
	}
	query, err := envelopeOf(r)
	if err != nil {
		return nil
	}

	var out []Entity
	for row := lo.Row; row <= hi.Row; row++ {
		for col := lo.Col; col <= hi.Col; col++ {
			reg := ix.grid.region(RegionKey{Col: col, Row: row})
			if !reg.Envelope.Intersects(query) {
				continue
			}
			for id, e := range reg.members {
				if !kindMatches(e.EntityKind(), kinds) {
					continue
				}
				if keep(ix.entries[id]) {
					out = append(out, e)
				}
			}
		}
	}
	sortEntities(out)
	return out
}

func kindMatches(k core.EntityKind, kinds []core.EntityKind) bool {
	if len(kinds) == 0 {
		return true
	}
	for _, want := range kinds {
		if k == want {
			return true
		}
	}
	return false
}

func sortEntities(es []Entity) {
	sort.Slice(es, func(i, j int) bool { return es[i].EntityID() < es[j].EntityID() })
}

// RegionOf returns the region currently holding id.
func (ix *Index) RegionOf(id core.EntityID) (RegionKey, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	en, ok := ix.entries[id]
	if !ok {
		return RegionKey{}, false
	}
	return en.key, true
}

// RegionAt returns the region that owns pos.
func (ix *Index) RegionAt(pos core.Position) (RegionKey, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	key, ok := ix.grid.keyOf(pos)
	if !ok {
		return RegionKey{}, &OutOfBoundsError{Position: pos, Bounds: ix.grid.bounds}
	}
	return key, nil
}

// PositionOf returns the indexed position of id.
func (ix *Index) PositionOf(id core.EntityID) (core.Position, bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	en, ok := ix.entries[id]
	if !ok {
		return core.Position{}, false
	}
	return en.pos, true
}

// Len returns the number of indexed entities.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.entries)
}

// Regions summarises every region in row-major order.
func (ix *Index) Regions() []RegionInfo {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	out := make([]RegionInfo, 0, len(ix.grid.regions))
	for _, reg := range ix.grid.regions {
		out = append(out, RegionInfo{Key: reg.Key, Bounds: reg.Bounds, Count: len(reg.members)})
	}
	return out
}

// Groups returns the entities of the given kind grouped per non-empty region,
// in row-major region order and ID order inside a group. The stepper uses it to
// fan the read phase out across regions.
func (ix *Index) Groups(kind core.EntityKind) [][]Entity {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	var out [][]Entity
	for _, reg := range ix.grid.regions {
		var group []Entity
		for _, e := range reg.members {
			if e.EntityKind() == kind {
				group = append(group, e)
			}
		}
		if len(group) > 0 {
			sortEntities(group)
			out = append(out, group)
		}
	}
	return out
}

// Verify checks that every entity is in exactly one region and that the
// region matches its coordinates.
func (ix *Index) Verify() error {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	seen := make(map[core.EntityID][]RegionKey, len(ix.entries))
	for _, reg := range ix.grid.regions {
		for id := range reg.members {
			seen[id] = append(seen[id], reg.Key)
		}
	}

	ids := make([]core.EntityID, 0, len(ix.entries))
	for id := range ix.entries {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		en := ix.entries[id]
		regions := seen[id]
		switch {
		case len(regions) == 0:
			return &CorruptionError{ID: id, Detail: "entity in zero regions"}
		case len(regions) > 1:
			return &CorruptionError{ID: id, Regions: regions, Detail: "entity in more than one region"}
		case regions[0] != en.key:
			return &CorruptionError{ID: id, Regions: regions, Detail: fmt.Sprintf("entry records region %s", en.key)}
		}
		want, ok := ix.grid.keyOf(en.pos)
		if !ok || want != en.key {
			return &CorruptionError{ID: id, Regions: regions,
				Detail: fmt.Sprintf("position (%.1f, %.1f) belongs to region %s", en.pos.X, en.pos.Y, want)}
		}
		delete(seen, id)
	}
	for id, regions := range seen {
		return &CorruptionError{ID: id, Regions: regions, Detail: "region member without index entry"}
	}
	return nil
}

// Resize rebuilds the grid with new bounds and region size. It takes the
// coarse lock; on error the index is unchanged.
func (ix *Index) Resize(bounds core.Rect, regionW, regionH float64) error {
	g, err := newGrid(bounds, regionW, regionH)
	if err != nil {
		return err
	}

	ix.mu.Lock()
	defer ix.mu.Unlock()

	entries := make(map[core.EntityID]*entry, len(ix.entries))
	for id, en := range ix.entries {
		key, ok := g.keyOf(en.pos)
		if !ok {
			return &OutOfBoundsError{ID: id, Position: en.pos, Bounds: bounds}
		}
		entries[id] = &entry{entity: en.entity, pos: en.pos, key: key}
		g.region(key).members[id] = en.entity
	}
	ix.grid = g
	ix.entries = entries
	return nil
}

// Reset removes every entity and keeps the geometry.
func (ix *Index) Reset() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, reg := range ix.grid.regions {
		reg.members = make(map[core.EntityID]Entity)
	}
	ix.entries = make(map[core.EntityID]*entry)
}
