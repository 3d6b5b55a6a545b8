package sim

import (
	"github.com/vanetsim/pseudosim/internal/pseudonym"
	"github.com/vanetsim/pseudosim/pkg/core"
)

// Evaluate compares clusters to the pseudonym registry. It is reporting only:
// the registry is ground truth the attacker never sees.
func Evaluate(reg *pseudonym.Registry, clusters []core.TrajectoryCluster) core.Evaluation {
	var ev core.Evaluation
	for _, id := range reg.Vehicles() {
		ev.Vehicles++
		if n := len(reg.History(id)); n > 1 {
			ev.Changes += n - 1
		}
	}
	ev.Clusters = len(clusters)

	var puritySum float64
	for _, c := range clusters {
		if len(c.Links) == 0 {
			continue
		}
		counts := make(map[core.EntityID]int)
		owners := make([]core.EntityID, len(c.Links))
		for i, l := range c.Links {
			owner, ok := reg.Resolve(l.Pseudonym)
			if !ok {
				ev.Unresolved++
				continue
			}
			owners[i] = owner
			counts[owner]++
		}
		best := 0
		for _, n := range counts {
			best = max(best, n)
		}
		puritySum += float64(best) / float64(len(c.Links))

		for i := 1; i < len(owners); i++ {
			if owners[i-1] == 0 || owners[i] == 0 {
				continue
			}
			if owners[i-1] == owners[i] {
				ev.CorrectLinks++
			} else {
				ev.FalseLinks++
			}
		}
	}
	if ev.Clusters > 0 {
		ev.MeanPurity = puritySum / float64(ev.Clusters)
	}
	if ev.Changes > 0 {
		ev.LinkRate = float64(ev.CorrectLinks) / float64(ev.Changes)
	}
	return ev
}
