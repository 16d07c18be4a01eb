package optimize

import (
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/search"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Summarize condenses the loop's trajectory for the manifest
func Summarize(metric domain.TargetMetric, baseline search.Candidate, res search.Result, exitReason string) domain.OptimizationSummary {
	sum := domain.OptimizationSummary{
		TargetMetric:   metric,
		Attempts:       res.Attempts,
		Accepted:       res.Accepted,
		Rejected:       len(res.Rejections),
		ExitReason:     exitReason,
		BaselineMetric: baseline.Metric(metric),
	}
	best := &baseline
	if res.Best != nil {
		best = res.Best
	}
	sum.BestMetric = best.Metric(metric)
	if sum.BestMetric != nil && sum.BaselineMetric != nil {
		sum.Improvement = ptr(*sum.BestMetric - *sum.BaselineMetric)
	}

	var values []float64
	for i := range res.History {
		c := &res.History[i]
		if !c.Attempt.Clean() {
			continue
		}
		sum.Clean++
		if v := c.Metric(metric); v != nil {
			values = append(values, *v)
		}
	}
	if len(values) > 0 {
		sort.Float64s(values)
		sum.CleanMean = ptr(stat.Mean(values, nil))
		sum.CleanMedian = ptr(stat.Quantile(0.5, stat.Empirical, values, nil))
		if len(values) > 1 {
			sum.CleanStdDev = ptr(stat.StdDev(values, nil))
		}
	}
	return sum
}

func ptr(v float64) *float64 { return &v }
