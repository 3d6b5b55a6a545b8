package spatial

import (
	"errors"
	"fmt"

	"github.com/vanetsim/pseudosim/pkg/core"
)

var (
	// ErrOutOfBounds is matched by every OutOfBoundsError.
	ErrOutOfBounds = errors.New("position outside map bounds")
	// ErrRegionTooSmall is wrapped into a configuration error by New and Resize.
	ErrRegionTooSmall = errors.New("region size below minimum")
	// ErrUnknownEntity is returned for operations on entities that are not indexed.
	ErrUnknownEntity = errors.New("entity not indexed")
	// ErrDuplicateEntity is returned when inserting an entity twice.
	ErrDuplicateEntity = errors.New("entity already indexed")
	// ErrCorrupt is matched by every CorruptionError.
	ErrCorrupt = errors.New("spatial index corrupted")
)

// OutOfBoundsError reports an insert or move outside the map. Callers must clamp or reject.
type OutOfBoundsError struct {
	ID       core.EntityID
	Position core.Position
	Bounds   core.Rect
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("entity %d at (%.1f, %.1f) outside map bounds (%.1f, %.1f)-(%.1f, %.1f)",
		e.ID, e.Position.X, e.Position.Y,
		e.Bounds.Min.X, e.Bounds.Min.Y, e.Bounds.Max.X, e.Bounds.Max.Y)
}

func (e *OutOfBoundsError) Unwrap() error { return ErrOutOfBounds }

// CorruptionError describes an index invariant violation. It is fatal: the
// simulation halts instead of repairing the index.
type CorruptionError struct {
	ID      core.EntityID
	Regions []RegionKey
	Detail  string
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("spatial index corrupted: entity %d in regions %v: %s", e.ID, e.Regions, e.Detail)
}

func (e *CorruptionError) Unwrap() error { return ErrCorrupt }
