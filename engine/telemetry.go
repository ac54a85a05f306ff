package engine

import (
	"github.com/use-agent/urwa/circuit"
	"github.com/use-agent/urwa/cost"
	"github.com/use-agent/urwa/evidence"
	"github.com/use-agent/urwa/learner"
	"github.com/use-agent/urwa/logging"
	"github.com/use-agent/urwa/models"
)

// CircuitStates returns the current breaker snapshot for every domain.
func (o *Orchestrator) CircuitStates() []circuit.Snapshot {
	return o.circuits.Snapshots()
}

// StrategyStats returns the learned stats, for one domain or all.
func (o *Orchestrator) StrategyStats(domain string) map[string]map[models.Strategy]*learner.Stat {
	if domain != "" {
		return map[string]map[models.Strategy]*learner.Stat{
			domain: o.learner.Stats(domain),
		}
	}
	return o.learner.AllStats()
}

// CostUsage returns the rolling-hour spend against the ceilings.
func (o *Orchestrator) CostUsage() cost.Usage {
	return o.cost.Snapshot()
}

// RecentLogs returns up to limit recent log records, newest first.
func (o *Orchestrator) RecentLogs(limit int, levelFilter string) []logging.Record {
	if o.logs == nil {
		return nil
	}
	return o.logs.RecentLogs(limit, levelFilter)
}

// RecentEvidence returns up to limit evidence records, newest first.
func (o *Orchestrator) RecentEvidence(limit int) []evidence.Record {
	return o.evidence.Recent(limit)
}
