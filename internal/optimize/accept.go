package optimize

import (
	"math"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Verdicts recorded for every executed variant
const (
	VerdictAccepted   = "accepted"
	VerdictFailed     = "failed"
	VerdictNoMetric   = "no-metric"
	VerdictUnderTrade = "under-traded"
	VerdictNotBetter  = "not-better"
	VerdictDrawdown   = "drawdown-regression"
)

// Rule is the acceptance rule of the optimization loop
type Rule struct {
	Metric        domain.TargetMetric
	MinTrades     int
	DrawdownSlack float64
}

// Judge applies the rule to a clean variant. A variant is accepted when its
// target metric is known and strictly beats best (an unknown best counts as
// minus infinity), it traded at least MinTrades times, and its drawdown
// magnitude is within DrawdownSlack points of the baseline's. An unknown
// baseline drawdown leaves the guard open.
func (r Rule) Judge(baseline, best, variant *domain.StatsReport) string {
	value := variant.Metric(r.Metric)
	if value == nil {
		return VerdictNoMetric
	}
	if variant.Trades() < r.MinTrades {
		return VerdictUnderTrade
	}
	current := math.Inf(-1)
	if v := best.Metric(r.Metric); v != nil {
		current = *v
	}
	if !(*value > current) {
		return VerdictNotBetter
	}
	if limit, ok := r.DrawdownLimit(baseline); ok {
		if variant == nil || variant.MaxDrawdown == nil || math.Abs(*variant.MaxDrawdown) > limit {
			return VerdictDrawdown
		}
	}
	return VerdictAccepted
}

// DrawdownLimit is the largest drawdown magnitude a variant may report. ok
// is false when the baseline drawdown is unknown.
func (r Rule) DrawdownLimit(baseline *domain.StatsReport) (float64, bool) {
	if baseline == nil || baseline.MaxDrawdown == nil {
		return 0, false
	}
	return math.Abs(*baseline.MaxDrawdown) + r.DrawdownSlack, true
}
