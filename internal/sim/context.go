// Package sim owns the simulation state and the clock that advances it.
package sim

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/vanetsim/pseudosim/internal/attacker"
	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/internal/pseudonym"
	"github.com/vanetsim/pseudosim/internal/rssi"
	"github.com/vanetsim/pseudosim/internal/spatial"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// exchangeSeedSalt separates the noise RNG stream from the pseudonym stream.
const exchangeSeedSalt = 0x5eed

// Context holds everything one simulation needs. Nothing in it is global:
// two contexts never share state.
type Context struct {
	mu sync.RWMutex

	Config    config.SimulationConfig
	Index     *spatial.Index
	Roads     mobility.RoadNetwork
	Models    *mobility.Set
	Trace     *mobility.Trace
	Registry  *pseudonym.Registry
	Policy    *pseudonym.Policy
	Exchange  *rssi.Exchange
	Estimator *attacker.Estimator // nil when the attacker is disabled

	runID    string
	now      core.SimTime
	vehicles []*core.Vehicle
	rsus     []*core.RSU
	byID     map[core.EntityID]*core.Vehicle

	initialVehicles []core.Vehicle
	initialRoutes   map[core.EntityID]mobility.Route
}

// NewContext validates cfg and builds an empty scenario on roads.
func NewContext(cfg config.SimulationConfig, roads mobility.RoadNetwork) (*Context, error) {
	cfg.ApplyExchangeRules()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if roads == nil {
		return nil, errors.New("road network is required")
	}

	ix, err := spatial.New(cfg.Bounds(), cfg.RegionWidth, cfg.RegionHeight)
	if err != nil {
		return nil, err
	}

	trace := mobility.NewTrace()
	reg := pseudonym.NewRegistry()
	c := &Context{
		Config:        cfg,
		Index:         ix,
		Roads:         roads,
		Models:        mobility.NewSet(cfg.Mobility, trace),
		Trace:         trace,
		Registry:      reg,
		Policy:        pseudonym.NewPolicy(cfg.Privacy, reg, cfg.Seed),
		runID:         uuid.NewString(),
		byID:          make(map[core.EntityID]*core.Vehicle),
		initialRoutes: make(map[core.EntityID]mobility.Route),
	}

	c.Exchange = rssi.NewExchange(cfg.Radio, cfg.RSUTechnique(), cfg.Seed^exchangeSeedSalt).
		WithSilenceCheck(reg.SilentAt)
	if cfg.Attacker.Enabled {
		c.Estimator = attacker.New(cfg.Attacker, rssi.PathLoss{TxPowerDBm: cfg.Radio.TxPowerDBm, Exponent: cfg.Radio.Exponent}, 0)
		c.Exchange.WithSink(c.Estimator)
	}
	return c, nil
}

// RunID identifies the current run. Reset starts a new one.
func (c *Context) RunID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.runID
}

// Now returns the simulated time of the last completed tick.
func (c *Context) Now() core.SimTime {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// AddVehicle places v on the map and issues its first pseudonym. A zero Model
// selects the configured default. The vehicle is remembered for Reset.
func (c *Context) AddVehicle(v core.Vehicle) (*core.Vehicle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.addVehicleLocked(v, true)
}

func (c *Context) addVehicleLocked(v core.Vehicle, remember bool) (*core.Vehicle, error) {
	if v.ID == 0 {
		return nil, errors.New("vehicle ID must be non-zero")
	}
	if _, ok := c.byID[v.ID]; ok {
		return nil, fmt.Errorf("vehicle %d: %w", v.ID, spatial.ErrDuplicateEntity)
	}
	if v.Model == 0 {
		v.Model = c.Config.Mobility.DefaultModel
	}
	if !c.Models.Has(v.Model) {
		return nil, fmt.Errorf("vehicle %d: %w: %s", v.ID, mobility.ErrUnknownModel, v.Model)
	}
	v.Active = true
	initial := v

	nv := &v
	if err := c.Index.Insert(nv, nv.Position); err != nil {
		return nil, err
	}
	if _, err := c.Policy.Admit(nv, c.now); err != nil {
		_ = c.Index.Remove(nv.ID)
		return nil, err
	}

	c.byID[nv.ID] = nv
	c.vehicles = append(c.vehicles, nv)
	sort.Slice(c.vehicles, func(i, j int) bool { return c.vehicles[i].ID < c.vehicles[j].ID })
	if remember {
		c.initialVehicles = append(c.initialVehicles, initial)
	}
	return nv, nil
}

// SetRoute assigns a trace route to a vehicle driven by the trace model.
func (c *Context) SetRoute(id core.EntityID, r mobility.Route) error {
	if err := c.Trace.SetRoute(id, r); err != nil {
		return err
	}
	c.mu.Lock()
	c.initialRoutes[id] = r
	c.mu.Unlock()
	return nil
}

// AddRSU places a road-side unit. A zero radius takes the configured radius
// for its role.
func (c *Context) AddRSU(r core.RSU) (*core.RSU, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if r.ID == 0 {
		return nil, errors.New("RSU ID must be non-zero")
	}
	if r.Radius == 0 {
		r.Radius = c.Config.Radio.RSURadius
		if r.IsAttacker() {
			r.Radius = c.Config.Radio.AttackerRadius
		}
	}
	if r.Radius < 0 {
		return nil, &config.ConfigurationError{Field: "rsu.radius", Reason: fmt.Sprintf("RSU %d has negative radius %g", r.ID, r.Radius)}
	}
	nr := &r
	if err := c.Index.Insert(nr, nr.Position); err != nil {
		return nil, err
	}
	c.rsus = append(c.rsus, nr)
	sort.Slice(c.rsus, func(i, j int) bool { return c.rsus[i].ID < c.rsus[j].ID })
	return nr, nil
}

// Vehicles returns the vehicles in ID order. Callers must not modify them
// while the clock is running.
func (c *Context) Vehicles() []*core.Vehicle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*core.Vehicle(nil), c.vehicles...)
}

// Vehicle looks a vehicle up by physical ID.
func (c *Context) Vehicle(id core.EntityID) (*core.Vehicle, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.byID[id]
	return v, ok
}

// RSUs returns the RSUs in ID order.
func (c *Context) RSUs() []*core.RSU {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]*core.RSU(nil), c.rsus...)
}

// Run describes the scenario for recording backends.
func (c *Context) Run() core.Run {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return core.Run{
		ID:        c.runID,
		Seed:      c.Config.Seed,
		TickMs:    int64(c.Config.Tick),
		Strategy:  c.Config.Attacker.Strategy.String(),
		MapWidth:  c.Config.MapWidth,
		MapHeight: c.Config.MapHeight,
		Vehicles:  len(c.vehicles),
		RSUs:      len(c.rsus),
	}
}

// reset restores the initial scenario: time zero, fresh pseudonyms, no samples
// and no clusters. Configuration and geometry are kept.
func (c *Context) reset() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.Index.Reset()
	c.Registry.Reset()
	c.Policy.Reset(c.Config.Seed)
	c.Exchange.Reseed(c.Config.Seed ^ exchangeSeedSalt)
	if c.Estimator != nil {
		c.Estimator.Reset()
	}
	c.now = 0
	c.runID = uuid.NewString()

	rsus := c.rsus
	c.vehicles, c.rsus = nil, nil
	c.byID = make(map[core.EntityID]*core.Vehicle)

	for id, r := range c.initialRoutes {
		if err := c.Trace.SetRoute(id, r); err != nil {
			return err
		}
	}
	for _, v := range c.initialVehicles {
		if _, err := c.addVehicleLocked(v, false); err != nil {
			return fmt.Errorf("restoring vehicle %d: %w", v.ID, err)
		}
	}
	for _, r := range rsus {
		if err := c.Index.Insert(r, r.Position); err != nil {
			return fmt.Errorf("restoring RSU %d: %w", r.ID, err)
		}
		c.rsus = append(c.rsus, r)
	}
	return nil
}

// resize changes the map and region geometry. The index is unchanged on error.
func (c *Context) resize(width, height, regionW, regionH float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	next := c.Config
	next.MapWidth, next.MapHeight = width, height
	next.RegionWidth, next.RegionHeight = regionW, regionH
	if err := next.Validate(); err != nil {
		return err
	}
	if err := c.Index.Resize(next.Bounds(), regionW, regionH); err != nil {
		return err
	}
	c.Config = next
	return nil
}
