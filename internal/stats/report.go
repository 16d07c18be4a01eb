// Package stats parses and renders the line-oriented performance report that
// every generated backtest prints on stdout.
//
// One metric per line, case-insensitive:
//
//	Return [%]: 12.5
//	Sharpe Ratio        0.87
//	Max. Drawdown [%]   -15.3%
//	# Trades: 1,204
//
// Both "name: value" and the whitespace-aligned layout of a printed pandas
// Series are accepted. A trailing "%" is stripped, thousands separators and
// scientific notation are tolerated, and NaN or infinite values parse as
// unknown. Lines naming other metrics are ignored.
package stats

import (
	"bufio"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// Recognised metric names, in render order
const (
	NameReturn   = "Return [%]"
	NameSharpe   = "Sharpe Ratio"
	NameDrawdown = "Max. Drawdown [%]"
	NameWinRate  = "Win Rate [%]"
	NameTrades   = "# Trades"
)

// ErrNoMetrics is returned when stdout contains no recognised metric with a known value
var ErrNoMetrics = fmt.Errorf("no recognised metric in output")

type field int

const (
	fieldReturn field = iota
	fieldSharpe
	fieldDrawdown
	fieldWinRate
	fieldTrades
)

var names = map[string]field{
	normalize(NameReturn):   fieldReturn,
	normalize(NameSharpe):   fieldSharpe,
	normalize(NameDrawdown): fieldDrawdown,
	normalize(NameWinRate):  fieldWinRate,
	normalize(NameTrades):   fieldTrades,
}

// Parse extracts a StatsReport from program output. When a metric appears
// more than once the last occurrence wins, matching a program that prints
// intermediate results before its final report.
func Parse(text string) (*domain.StatsReport, error) {
	report := &domain.StatsReport{}
	seen := false

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 64*1024), 4*1024*1024)
	for sc.Scan() {
		name, raw, ok := splitLine(sc.Text())
		if !ok {
			continue
		}
		f, ok := names[normalize(name)]
		if !ok {
			continue
		}
		value, known, err := parseNumber(raw)
		if err != nil {
			continue
		}
		if known {
			seen = true
		}
		assign(report, f, value, known)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan output: %w", err)
	}
	if !seen {
		return nil, ErrNoMetrics
	}
	return report, nil
}

func assign(r *domain.StatsReport, f field, v float64, known bool) {
	var p *float64
	if known {
		p = &v
	}
	switch f {
	case fieldReturn:
		r.ReturnPct = p
	case fieldSharpe:
		r.Sharpe = p
	case fieldDrawdown:
		r.MaxDrawdown = p
	case fieldWinRate:
		r.WinRatePct = p
	case fieldTrades:
		if known {
			n := int(math.Round(v))
			r.TradeCount = &n
		} else {
			r.TradeCount = nil
		}
	}
}

// splitLine separates "name: value" or "name    value" into its parts
func splitLine(line string) (name, value string, ok bool) {
	line = strings.TrimSpace(line)
	if line == "" {
		return "", "", false
	}
	if i := strings.LastIndex(line, ":"); i > 0 {
		name, value = strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])
		if _, known := names[normalize(name)]; known {
			return name, value, value != ""
		}
	}
	// pandas alignment: the value is the last whitespace-separated token
	i := strings.LastIndexAny(line, " \t")
	if i <= 0 {
		return "", "", false
	}
	return strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:]), true
}

func normalize(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(name)), " ")
}

// parseNumber returns the value and whether it is known. NaN and infinities
// are valid report values that mean "unknown".
func parseNumber(raw string) (float64, bool, error) {
	s := strings.TrimSpace(raw)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	s = strings.TrimSpace(s)

	switch strings.ToLower(s) {
	case "nan", "none", "null", "n/a", "-":
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, err
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, false, nil
	}
	return v, true, nil
}

// Render prints r in the canonical "name: value" form. Unknown metrics are
// omitted, so Parse(Render(r)) reproduces r for any report with at least one
// known metric.
func Render(r *domain.StatsReport) string {
	if r == nil {
		return ""
	}
	var b strings.Builder
	writeFloat := func(name string, v *float64) {
		if v != nil {
			fmt.Fprintf(&b, "%s: %s\n", name, strconv.FormatFloat(*v, 'g', -1, 64))
		}
	}
	writeFloat(NameReturn, r.ReturnPct)
	writeFloat(NameSharpe, r.Sharpe)
	writeFloat(NameDrawdown, r.MaxDrawdown)
	writeFloat(NameWinRate, r.WinRatePct)
	if r.TradeCount != nil {
		fmt.Fprintf(&b, "%s: %d\n", NameTrades, *r.TradeCount)
	}
	return b.String()
}

// Equal compares two reports field by field
func Equal(a, b *domain.StatsReport) bool {
	if a == nil || b == nil {
		return a == b
	}
	return eqf(a.ReturnPct, b.ReturnPct) && eqf(a.Sharpe, b.Sharpe) && eqf(a.MaxDrawdown, b.MaxDrawdown) &&
		eqf(a.WinRatePct, b.WinRatePct) && eqi(a.TradeCount, b.TradeCount)
}

func eqf(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqi(a, b *int) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
