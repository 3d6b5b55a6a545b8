package rssi

import (
	"errors"
	"fmt"
	"math/rand"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/spatial"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// ErrSilentLeak is returned when a sample would reference a vehicle the
// pseudonym registry has marked silent. It indicates a state mismatch and is fatal.
var ErrSilentLeak = errors.New("sample references a silent vehicle")

// Sink receives the samples that reach the attacker.
type Sink interface {
	Push(samples ...core.RssiSample)
}

// SilenceFunc reports whether a vehicle is silent at t according to the pseudonym records.
type SilenceFunc func(vehicle core.EntityID, t core.SimTime) bool

// Result of one exchange round.
type Result struct {
	Samples   []core.RssiSample
	Forwarded []core.RssiSample
}

// Exchange generates the samples of one tick for the enabled pair-kinds.
type Exchange struct {
	flags         config.ExchangeFlags
	model         PathLoss
	noiseStd      float64
	vehicleRadius float64
	rng           *rand.Rand
	sink          Sink
	silent        SilenceFunc
}

// NewExchange creates an exchange. RSU↔RSU is forced on when rsuTechnique is set.
func NewExchange(cfg config.RadioConfig, rsuTechnique bool, seed int64) *Exchange {
	flags := cfg.Exchange
	if rsuTechnique {
		flags.RSUToRSU = true
	}
	return &Exchange{
		flags:         flags,
		model:         PathLoss{TxPowerDBm: cfg.TxPowerDBm, Exponent: cfg.Exponent},
		noiseStd:      cfg.NoiseStdDB,
		vehicleRadius: cfg.VehicleRadius,
		rng:           rand.New(rand.NewSource(seed)),
	}
}

// WithSink sets where forwarded samples are pushed.
func (e *Exchange) WithSink(s Sink) *Exchange {
	e.sink = s
	return e
}

// WithSilenceCheck cross-checks every vehicle sample against the pseudonym records.
func (e *Exchange) WithSilenceCheck(f SilenceFunc) *Exchange {
	e.silent = f
	return e
}

// Flags returns the effective pair-kind flags.
func (e *Exchange) Flags() config.ExchangeFlags { return e.flags }

// Model returns the attenuation model.
func (e *Exchange) Model() PathLoss { return e.model }

// Reseed restarts the noise RNG.
func (e *Exchange) Reseed(seed int64) {
	e.rng = rand.New(rand.NewSource(seed))
}

func (e *Exchange) signal(d float64) float64 {
	s := e.model.Signal(d)
	if e.noiseStd > 0 {
		s += e.rng.NormFloat64() * e.noiseStd
	}
	return s
}

// Run produces the samples of tick t. rsus must be sorted by ID. Silent or
// inactive vehicles neither transmit nor observe.
func (e *Exchange) Run(t core.SimTime, ix *spatial.Index, rsus []*core.RSU) (Result, error) {
	var res Result

	for _, obs := range rsus {
		if e.flags.RSUToRSU {
			for _, ent := range ix.NeighborsWithinRadius(obs.Position, obs.Radius, core.KindRSU) {
				tx := ent.(*core.RSU)
				if tx.ID == obs.ID {
					continue
				}
				s := core.RssiSample{
					Kind:             core.ExchangeRSUToRSU,
					Observer:         obs.ID,
					ObserverKind:     core.KindRSU,
					ObserverPosition: obs.Position,
					ObservedRSU:      tx.ID,
					ObservedPosition: tx.Position,
					SignalDBm:        e.signal(obs.Position.Distance(tx.Position)),
					Tick:             t,
				}
				res.add(s, obs.IsAttacker())
			}
		}

		if e.flags.VehicleToRSU {
			for _, ent := range ix.NeighborsWithinRadius(obs.Position, obs.Radius, core.KindVehicle) {
				tx := ent.(*core.Vehicle)
				if !tx.Transmitting() {
					continue
				}
				if err := e.checkSilence(tx, t); err != nil {
					return Result{}, err
				}
				s := core.RssiSample{
					Kind:             core.ExchangeVehicleToRSU,
					Observer:         obs.ID,
					ObserverKind:     core.KindRSU,
					ObserverPosition: obs.Position,
					Observed:         tx.Pseudonym,
					SignalDBm:        e.signal(obs.Position.Distance(tx.Position)),
					Tick:             t,
				}
				res.add(s, obs.IsAttacker())
			}
		}
	}

	if e.flags.VehicleToVehicle {
		relays := e.relays(ix, rsus)
		for _, group := range ix.Groups(core.KindVehicle) {
			for _, ent := range group {
				obs := ent.(*core.Vehicle)
				if !obs.Transmitting() {
					continue
				}
				if err := e.checkSilence(obs, t); err != nil {
					return Result{}, err
				}
				for _, other := range ix.NeighborsWithinRadius(obs.Position, e.vehicleRadius, core.KindVehicle) {
					tx := other.(*core.Vehicle)
					if tx.ID == obs.ID || !tx.Transmitting() {
						continue
					}
					if err := e.checkSilence(tx, t); err != nil {
						return Result{}, err
					}
					s := core.RssiSample{
						Kind:              core.ExchangeVehicleToVehicle,
						ObserverPseudonym: obs.Pseudonym,
						ObserverKind:      core.KindVehicle,
						ObserverPosition:  obs.Position,
						Observed:          tx.Pseudonym,
						SignalDBm:         e.signal(obs.Position.Distance(tx.Position)),
						Tick:              t,
					}
					res.add(s, relays[obs.ID])
				}
			}
		}
	}

	if e.sink != nil && len(res.Forwarded) > 0 {
		e.sink.Push(res.Forwarded...)
	}
	return res, nil
}

func (r *Result) add(s core.RssiSample, forward bool) {
	r.Samples = append(r.Samples, s)
	if forward {
		r.Forwarded = append(r.Forwarded, s)
	}
}

// relays returns the vehicles inside the sensing radius of an attacker RSU.
func (e *Exchange) relays(ix *spatial.Index, rsus []*core.RSU) map[core.EntityID]bool {
	out := make(map[core.EntityID]bool)
	for _, r := range rsus {
		if !r.IsAttacker() {
			continue
		}
		for _, ent := range ix.NeighborsWithinRadius(r.Position, r.Radius, core.KindVehicle) {
			out[ent.EntityID()] = true
		}
	}
	return out
}

func (e *Exchange) checkSilence(v *core.Vehicle, t core.SimTime) error {
	if e.silent != nil && e.silent(v.ID, t) {
		return fmt.Errorf("%w: pseudonym %s at %d", ErrSilentLeak, v.Pseudonym, t)
	}
	return nil
}
