package main

import (
	"fmt"
	"math/rand"
	"os"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/geo"
	"github.com/vanetsim/pseudosim/internal/mobility"
	"github.com/vanetsim/pseudosim/internal/sim"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// ID ranges keep vehicles and RSUs apart in logs and exports.
const (
	rsuIDBase   = 1_000_000
	traceIDBase = 900_000
)

// buildScenario places vehicles and RSUs on a straight east-west road
// through the middle of the map. Attacker RSUs alternate above and below the
// road so trilateration has a usable geometry.
func buildScenario(cfg config.SimulationConfig, sc config.ScenarioConfig) (*sim.Context, error) {
	if sc.Lanes < 1 {
		return nil, &config.ConfigurationError{Field: "scenario.lanes", Reason: fmt.Sprintf("must be at least 1, got %d", sc.Lanes)}
	}
	roads := mobility.StraightRoads{
		Limit: core.KmhToCms(sc.SpeedKmh),
		Lanes: sc.Lanes,
		Width: sc.LaneWidth,
	}
	c, err := sim.NewContext(cfg, roads)
	if err != nil {
		return nil, err
	}

	midY := cfg.MapHeight / 2
	id := core.EntityID(rsuIDBase)
	for i := 0; i < sc.RSUs; i++ {
		x := cfg.MapWidth * (float64(i) + 0.5) / float64(sc.RSUs)
		if _, err := c.AddRSU(core.RSU{ID: id, Position: core.Position{X: x, Y: midY}}); err != nil {
			return nil, fmt.Errorf("placing RSU %d: %w", i, err)
		}
		id++
	}
	for i := 0; i < sc.AttackerRSUs; i++ {
		x := cfg.MapWidth * (float64(i) + 0.5) / float64(sc.AttackerRSUs)
		y := midY + cfg.MapHeight/4
		if i%2 == 1 {
			y = midY - cfg.MapHeight/4
		}
		if _, err := c.AddRSU(core.RSU{ID: id, Position: core.Position{X: x, Y: y}, Role: core.RoleAttacker}); err != nil {
			return nil, fmt.Errorf("placing attacker RSU %d: %w", i, err)
		}
		id++
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	roadWidth := float64(sc.Lanes) * sc.LaneWidth
	for i := 0; i < sc.Vehicles; i++ {
		lane := rng.Intn(sc.Lanes)
		v := core.Vehicle{
			ID: core.EntityID(i + 1),
			Position: core.Position{
				X: rng.Float64() * cfg.MapWidth * 0.8,
				Y: midY - roadWidth/2 + (float64(lane)+0.5)*sc.LaneWidth,
			},
			Speed: roads.Limit * (0.6 + 0.4*rng.Float64()),
			Lane:  lane,
		}
		if _, err := c.AddVehicle(v); err != nil {
			return nil, fmt.Errorf("placing vehicle %d: %w", v.ID, err)
		}
	}

	if sc.TraceFile != "" {
		if err := addTraceVehicle(c, sc.TraceFile, core.Position{X: 0, Y: midY}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// addTraceVehicle adds one vehicle driven by a recorded WGS84 trace.
func addTraceVehicle(c *sim.Context, path string, offset core.Position) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening trace: %w", err)
	}
	defer f.Close()

	points, err := geo.ReadTrace(f)
	if err != nil {
		return err
	}
	route, err := geo.TraceToRoute(points, offset)
	if err != nil {
		return fmt.Errorf("trace %s: %w", path, err)
	}

	id := core.EntityID(traceIDBase)
	if _, err := c.AddVehicle(core.Vehicle{ID: id, Position: route[0].Position, Model: core.ModelTrace}); err != nil {
		return fmt.Errorf("placing trace vehicle: %w", err)
	}
	return c.SetRoute(id, route)
}
