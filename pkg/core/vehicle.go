// pkg/core/vehicle.go
package core

import (
	"fmt"
	"time"
)

// SimTime is simulated time in milliseconds since scenario start.
type SimTime int64

// Duration converts a simulated time span to a time.Duration.
func (t SimTime) Duration() time.Duration {
	return time.Duration(t) * time.Millisecond
}

// SimTimeOf converts a time.Duration to simulated milliseconds.
func SimTimeOf(d time.Duration) SimTime {
	return SimTime(d / time.Millisecond)
}

// EntityID identifies a vehicle or RSU inside the simulation.
// Vehicle IDs are physical identities and are never handed to the attacker.
type EntityID uint64

// EntityKind distinguishes the two kinds of indexed entities.
type EntityKind uint8

const (
	KindVehicle EntityKind = iota + 1
	KindRSU
)

func (k EntityKind) String() string {
	switch k {
	case KindVehicle:
		return "vehicle"
	case KindRSU:
		return "rsu"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// ModelKind selects the mobility model driving a vehicle.
type ModelKind uint8

const (
	ModelClassic ModelKind = iota + 1
	ModelIDM
	ModelTrace
)

func (m ModelKind) String() string {
	switch m {
	case ModelClassic:
		return "classic"
	case ModelIDM:
		return "idm"
	case ModelTrace:
		return "trace"
	default:
		return fmt.Sprintf("model(%d)", uint8(m))
	}
}

// ParseModelKind maps a configuration name to a ModelKind.
func ParseModelKind(s string) (ModelKind, error) {
	switch s {
	case "classic":
		return ModelClassic, nil
	case "idm", "idm/mobil", "mobil":
		return ModelIDM, nil
	case "trace":
		return ModelTrace, nil
	}
	return 0, fmt.Errorf("unknown mobility model %q", s)
}

// PrivacyState is the pseudonym state of a vehicle.
type PrivacyState uint8

const (
	StateActive PrivacyState = iota
	StateSilent
	StateChanging
)

func (s PrivacyState) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateSilent:
		return "silent"
	case StateChanging:
		return "changing"
	default:
		return fmt.Sprintf("state(%d)", uint8(s))
	}
}

// Vehicle is a simulated car.
// Speed is in cm/s, Heading in radians (0 = east, counter-clockwise).
type Vehicle struct {
	ID                  EntityID
	Pseudonym           Pseudonym
	Position            Position
	Speed               float64
	Heading             float64
	Lane                int
	Model               ModelKind
	State               PrivacyState
	Active              bool
	LastPseudonymChange SimTime
}

// EntityID implements spatial.Entity.
func (v *Vehicle) EntityID() EntityID { return v.ID }

// EntityKind implements spatial.Entity.
func (v *Vehicle) EntityKind() EntityKind { return KindVehicle }

// Transmitting reports whether the vehicle may take part in radio exchanges.
func (v *Vehicle) Transmitting() bool {
	return v.Active && v.State == StateActive
}

// RSURole marks whether an RSU feeds the attacker.
type RSURole uint8

const (
	RoleBenign RSURole = iota
	RoleAttacker
)

func (r RSURole) String() string {
	if r == RoleAttacker {
		return "attacker"
	}
	return "benign"
}

// RSU is a fixed road-side unit. Radius uses the same unit as positions.
type RSU struct {
	ID       EntityID
	Position Position
	Radius   float64
	Role     RSURole
}

// EntityID implements spatial.Entity.
func (r *RSU) EntityID() EntityID { return r.ID }

// EntityKind implements spatial.Entity.
func (r *RSU) EntityKind() EntityKind { return KindRSU }

// IsAttacker reports whether samples observed by this RSU reach the estimator.
func (r *RSU) IsAttacker() bool { return r.Role == RoleAttacker }

// KmhToCms converts km/h to cm/s.
func KmhToCms(kmh float64) float64 {
	return kmh * 100000 / 3600
}

// CmsToKmh converts cm/s to km/h.
func CmsToKmh(cms float64) float64 {
	return cms * 3600 / 100000
}
