// pkg/core/sample.go
package core

import "fmt"

// ExchangeKind is the pair-kind an RSSI sample was produced by.
type ExchangeKind uint8

const (
	ExchangeRSUToRSU ExchangeKind = iota + 1
	ExchangeVehicleToRSU
	ExchangeVehicleToVehicle
)

func (k ExchangeKind) String() string {
	switch k {
	case ExchangeRSUToRSU:
		return "rsu-rsu"
	case ExchangeVehicleToRSU:
		return "vehicle-rsu"
	case ExchangeVehicleToVehicle:
		return "vehicle-vehicle"
	default:
		return fmt.Sprintf("exchange(%d)", uint8(k))
	}
}

// RssiSample is one signal-strength observation.
//
// For vehicle transmitters Observed carries the pseudonym heard on air; for
// RSU↔RSU calibration samples ObservedRSU and ObservedPosition are set
// instead, since RSU positions are public. Vehicle observers are identified by
// their own pseudonym, never by their physical ID.
type RssiSample struct {
	Kind              ExchangeKind `json:"kind"`
	Observer          EntityID     `json:"observer,omitempty"`
	ObserverPseudonym Pseudonym    `json:"observerPseudonym,omitempty"`
	ObserverKind      EntityKind   `json:"observerKind"`
	ObserverPosition  Position     `json:"observerPosition"`
	Observed          Pseudonym    `json:"observed,omitempty"`
	ObservedRSU       EntityID     `json:"observedRsu,omitempty"`
	ObservedPosition  Position     `json:"observedPosition,omitempty"`
	SignalDBm         float64      `json:"signalDbm"`
	Tick              SimTime      `json:"tick"`
}

// FixedObserver reports whether the observer position is known to the attacker
// independently of the sample, which trilateration requires.
func (s RssiSample) FixedObserver() bool {
	return s.ObserverKind == KindRSU
}
