// Package strategy turns a site profile and the learned per-domain stats
// into the ordered list of strategies the runner will escalate through.
package strategy

import (
	"sort"

	"github.com/use-agent/urwa/learner"
	"github.com/use-agent/urwa/models"
	"github.com/use-agent/urwa/profile"
)

// Choose builds the escalation order for one request.
//
// force, when set, pins the list to that single strategy. Otherwise the
// list starts at the profile's recommendation, or at the lightest
// trusted strategy when one is lighter than the recommendation, and is
// completed with every heavier tier so escalation stays monotone.
// Trusted strategies at or above the starting tier do not change the
// order. Length is capped at three.
func Choose(prof *profile.SiteProfile, stats map[models.Strategy]*learner.Stat, force models.Strategy) []models.Strategy {
	if force.Valid() {
		return []models.Strategy{force}
	}

	first := prof.RecommendedStrategy
	if !first.Valid() {
		first = models.StrategyLight
	}

	// Trusted strategies, best success rate first.
	var trusted []models.Strategy
	for s, stat := range stats {
		if stat.Trusted() {
			trusted = append(trusted, s)
		}
	}
	sort.Slice(trusted, func(i, j int) bool {
		ri, rj := stats[trusted[i]].SuccessRate(), stats[trusted[j]].SuccessRate()
		if ri != rj {
			return ri > rj
		}
		return trusted[i].Rank() < trusted[j].Rank()
	})

	// A trusted strategy lighter than the recommendation may lead; it
	// has earned it. The tail stays in escalation order.
	lead := first
	for _, s := range trusted {
		if s.Rank() < lead.Rank() {
			lead = s
		}
	}

	order := []models.Strategy{lead}
	for _, s := range models.Strategies {
		if s.Rank() > lead.Rank() {
			order = append(order, s)
		}
	}

	if len(order) > 3 {
		order = order[:3]
	}
	return order
}
