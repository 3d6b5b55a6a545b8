// Package attacker reconstructs vehicle trajectories across pseudonym changes
// from the RSSI samples that reach attacker RSUs.
package attacker

import (
	"sort"
	"sync"

	"github.com/vanetsim/pseudosim/internal/config"
	"github.com/vanetsim/pseudosim/internal/queue"
	"github.com/vanetsim/pseudosim/internal/rssi"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// Estimator consumes forwarded samples once per tick and maintains the
// trajectory clusters. It only ever sees pseudonyms and public RSU positions.
type Estimator struct {
	mu          sync.RWMutex
	cfg         config.AttackerConfig
	base        rssi.PathLoss
	model       rssi.PathLoss
	inbox       *queue.Queue[core.RssiSample]
	calib       calibration
	history     []core.RssiSample
	clusters    []*core.TrajectoryCluster
	byPseudonym map[core.Pseudonym]*core.TrajectoryCluster
	nextID      core.ClusterID
	stats       core.EstimatorStats
}

// New creates an estimator. model is the attenuation assumed until RSU↔RSU
// samples calibrate the exponent. inboxLimit bounds queued samples (0 = unbounded).
func New(cfg config.AttackerConfig, model rssi.PathLoss, inboxLimit int) *Estimator {
	e := &Estimator{
		cfg:   cfg,
		base:  model,
		inbox: queue.NewBounded[core.RssiSample](inboxLimit),
	}
	e.resetLocked()
	return e
}

// Push implements rssi.Sink.
func (e *Estimator) Push(samples ...core.RssiSample) {
	e.inbox.Push(samples...)
}

// Pending returns the number of queued samples.
func (e *Estimator) Pending() int { return e.inbox.Len() }

// Reset drops all samples, clusters and calibration.
func (e *Estimator) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.inbox.Clear()
	e.resetLocked()
}

func (e *Estimator) resetLocked() {
	e.model = e.base
	e.calib = calibration{}
	e.history = nil
	e.clusters = nil
	e.byPseudonym = make(map[core.Pseudonym]*core.TrajectoryCluster)
	e.nextID = 0
	e.stats = core.EstimatorStats{CalibratedExponent: e.base.Exponent}
}

type observation struct {
	pseudonym core.Pseudonym
	ranges    []Range
	fixed     []Range
	strongest Range
}

type candidate struct {
	cluster  *core.TrajectoryCluster
	position core.Position
	residual float64
}

// Update drains the inbox and processes the samples of tick t. It returns the
// counters of this tick; Stats returns the running totals.
func (e *Estimator) Update(t core.SimTime) core.EstimatorStats {
	samples := e.inbox.Drain()

	e.mu.Lock()
	defer e.mu.Unlock()

	delta := core.EstimatorStats{SamplesConsumed: uint64(len(samples))}

	groups := make(map[core.Pseudonym][]core.RssiSample)
	for _, s := range samples {
		if s.Kind == core.ExchangeRSUToRSU {
			if e.calib.add(s, e.base.TxPowerDBm) {
				delta.CalibrationSamples++
			}
			continue
		}
		if s.Observed != 0 {
			groups[s.Observed] = append(groups[s.Observed], s)
		}
	}
	if n, ok := e.calib.exponent(); ok {
		e.model = e.base.WithExponent(n)
	}
	delta.CalibratedExponent = e.model.Exponent

	e.history = append(e.history, samples...)
	e.trimHistory(t)

	keys := make([]core.Pseudonym, 0, len(groups))
	for p := range groups {
		keys = append(keys, p)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	obs := make([]observation, 0, len(keys))
	for _, p := range keys {
		obs = append(obs, e.observationOf(p, groups[p]))
	}

	// known pseudonyms first so that clusters active this tick are not link candidates
	var fresh []observation
	for _, o := range obs {
		if c, ok := e.byPseudonym[o.pseudonym]; ok {
			e.track(c, o, t, &delta)
		} else {
			fresh = append(fresh, o)
		}
	}
	for _, o := range fresh {
		e.link(o, t, &delta)
	}

	e.stats.SamplesConsumed += delta.SamplesConsumed
	e.stats.CalibrationSamples += delta.CalibrationSamples
	e.stats.Fixes += delta.Fixes
	e.stats.Inconclusive += delta.Inconclusive
	e.stats.Deferred += delta.Deferred
	e.stats.Merged += delta.Merged
	e.stats.ClustersSeeded += delta.ClustersSeeded
	e.stats.CalibratedExponent = delta.CalibratedExponent
	return delta
}

func (e *Estimator) observationOf(p core.Pseudonym, samples []core.RssiSample) observation {
	o := observation{pseudonym: p}
	seen := make(map[core.EntityID]bool)
	strongest := -1e300
	for _, s := range samples {
		r := Range{Observer: s.ObserverPosition, Distance: e.model.Distance(s.SignalDBm)}
		o.ranges = append(o.ranges, r)
		if s.SignalDBm > strongest {
			strongest = s.SignalDBm
			o.strongest = r
		}
		if s.FixedObserver() && !seen[s.Observer] {
			seen[s.Observer] = true
			o.fixed = append(o.fixed, r)
		}
	}
	return o
}

// trilaterate returns an accepted fix when the strategy and geometry allow one.
// A rejected solve is counted as inconclusive.
func (e *Estimator) trilaterate(o observation, t core.SimTime, delta *core.EstimatorStats) (core.Fix, bool) {
	if e.cfg.Strategy != core.StrategyTrilateration || len(o.fixed) < 3 {
		return core.Fix{}, false
	}
	pos, residual, err := Trilaterate(o.fixed)
	if err != nil || residual > e.cfg.AllowedError {
		delta.Inconclusive++
		return core.Fix{}, false
	}
	return core.Fix{Tick: t, Position: pos, Residual: residual, Strategy: core.StrategyTrilateration}, true
}

// track updates the cluster already holding o's pseudonym.
func (e *Estimator) track(c *core.TrajectoryCluster, o observation, t core.SimTime, delta *core.EstimatorStats) {
	extendLink(c, o.pseudonym, t)

	if fix, ok := e.trilaterate(o, t, delta); ok {
		e.appendFix(c, fix)
		delta.Fixes++
		return
	}
	pred, ok := Predict(c, t)
	if !ok {
		return
	}
	pos, residual := bestRing(pred, o.ranges)
	if residual > e.cfg.AllowedError {
		delta.Inconclusive++
		return
	}
	e.appendFix(c, core.Fix{Tick: t, Position: pos, Residual: residual, Strategy: core.StrategyMovementPrediction})
	delta.Fixes++
}

// link merges a newly observed pseudonym into the most plausible quiet cluster,
// seeds a new cluster, or defers when the best match is ambiguous.
func (e *Estimator) link(o observation, t core.SimTime, delta *core.EstimatorStats) {
	tri, hasTri := e.trilaterate(o, t, delta)

	var cands []candidate
	for _, c := range e.clusters {
		last := c.LastSeen()
		if last >= t || t-last > e.cfg.LinkWindow {
			continue
		}
		pred, ok := Predict(c, t)
		if !ok {
			continue
		}
		cand := candidate{cluster: c}
		if hasTri {
			cand.position, cand.residual = tri.Position, tri.Position.Distance(pred)
		} else {
			cand.position, cand.residual = bestRing(pred, o.ranges)
		}
		if cand.residual <= e.cfg.AllowedError {
			cands = append(cands, cand)
		}
	}
	sort.SliceStable(cands, func(i, j int) bool {
		if cands[i].residual != cands[j].residual {
			return cands[i].residual < cands[j].residual
		}
		return cands[i].cluster.FirstSeen() < cands[j].cluster.FirstSeen()
	})

	seedFix := core.Fix{Tick: t, Position: o.strongest.Observer, Residual: o.strongest.Distance, Strategy: core.StrategyCoarse}
	if hasTri {
		seedFix = tri
	}

	switch {
	case len(cands) >= 2 &&
		cands[0].residual == cands[1].residual &&
		cands[0].cluster.FirstSeen() == cands[1].cluster.FirstSeen():
		c := e.seed(o.pseudonym, t, seedFix)
		c.Deferred = true
		delta.Deferred++
		delta.ClustersSeeded++

	case len(cands) >= 1:
		best := cands[0]
		best.cluster.Links = append(best.cluster.Links, core.Link{Pseudonym: o.pseudonym, From: t, To: t})
		e.byPseudonym[o.pseudonym] = best.cluster
		fix := tri
		if !hasTri {
			fix = core.Fix{Tick: t, Position: best.position, Residual: best.residual, Strategy: core.StrategyMovementPrediction}
		}
		e.appendFix(best.cluster, fix)
		delta.Merged++
		delta.Fixes++

	default:
		e.seed(o.pseudonym, t, seedFix)
		delta.ClustersSeeded++
		if hasTri {
			delta.Fixes++
		}
	}
}

func (e *Estimator) seed(p core.Pseudonym, t core.SimTime, fix core.Fix) *core.TrajectoryCluster {
	e.nextID++
	c := &core.TrajectoryCluster{
		ID:    e.nextID,
		Links: []core.Link{{Pseudonym: p, From: t, To: t}},
		Fixes: []core.Fix{fix},
	}
	e.clusters = append(e.clusters, c)
	e.byPseudonym[p] = c
	return c
}

// appendFix records fix and derives the velocity from the previous accepted fix.
// Coarse fixes never contribute to velocity.
func (e *Estimator) appendFix(c *core.TrajectoryCluster, fix core.Fix) {
	if prev, ok := c.LastFix(); ok && fix.Tick > prev.Tick {
		if prev.Strategy != core.StrategyCoarse && fix.Strategy != core.StrategyCoarse {
			dt := float64(fix.Tick-prev.Tick) / 1000
			c.Velocity = fix.Position.Sub(prev.Position).Scale(1 / dt)
		} else {
			c.Velocity = core.Position{}
		}
	}
	c.Fixes = append(c.Fixes, fix)

	// keep the fixes inside the history window, and always the last two
	if e.cfg.HistoryWindow > 0 && len(c.Fixes) > 2 {
		cutoff := fix.Tick - e.cfg.HistoryWindow
		drop := 0
		for drop < len(c.Fixes)-2 && c.Fixes[drop].Tick < cutoff {
			drop++
		}
		if drop > 0 {
			c.Fixes = append([]core.Fix(nil), c.Fixes[drop:]...)
		}
	}
}

func extendLink(c *core.TrajectoryCluster, p core.Pseudonym, t core.SimTime) {
	for i := len(c.Links) - 1; i >= 0; i-- {
		if c.Links[i].Pseudonym == p {
			if t > c.Links[i].To {
				c.Links[i].To = t
			}
			return
		}
	}
}

func (e *Estimator) trimHistory(t core.SimTime) {
	if e.cfg.HistoryWindow <= 0 {
		return
	}
	cutoff := t - e.cfg.HistoryWindow
	drop := 0
	for drop < len(e.history) && e.history[drop].Tick <= cutoff {
		drop++
	}
	if drop > 0 {
		e.history = append([]core.RssiSample(nil), e.history[drop:]...)
	}
}

// Clusters returns a deep copy of the clusters in ID order.
func (e *Estimator) Clusters() []core.TrajectoryCluster {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]core.TrajectoryCluster, 0, len(e.clusters))
	for _, c := range e.clusters {
		cp := *c
		cp.Links = append([]core.Link(nil), c.Links...)
		cp.Fixes = append([]core.Fix(nil), c.Fixes...)
		out = append(out, cp)
	}
	return out
}

// ClusterOf returns the ID of the cluster holding p.
func (e *Estimator) ClusterOf(p core.Pseudonym) (core.ClusterID, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	c, ok := e.byPseudonym[p]
	if !ok {
		return 0, false
	}
	return c.ID, true
}

// History returns the retained samples, oldest first.
func (e *Estimator) History() []core.RssiSample {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]core.RssiSample(nil), e.history...)
}

// Stats returns the running counters.
func (e *Estimator) Stats() core.EstimatorStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.stats
}

// Model returns the attenuation model currently assumed.
func (e *Estimator) Model() rssi.PathLoss {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.model
}
