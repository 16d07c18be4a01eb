package testutil

import (
	"fmt"
	"strings"

	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

// StrategySpec is a strategy spec carrying all six required sections
const StrategySpec = `## Market
BTC-USD spot.
## Timeframe
15 minute bars.
## Entry Rules
Buy when RSI(14) crosses above 30 and price is above SMA(50).
## Exit Rules
Sell when RSI(14) crosses below 70 or price closes under SMA(50).
## Risk Sizing
Position size 10% of equity, stop loss 2%.
## Indicators
RSI(14), SMA(50).`

// StrategyBrief is a raw-text source long enough to pass ingestion
var StrategyBrief = strings.Repeat("Buy bitcoin when the 14 period RSI crosses above 30 while price holds above the 50 period moving average. ", 4)

// Program returns a small backtest program tagged with marker. Programs with
// different markers have nearly the same size.
func Program(marker string) string {
	return fmt.Sprintf(`import pandas as pd
from backtesting import Backtest, Strategy

class RsiCross(Strategy):
    n = 14

    def init(self):
        self.rsi = self.I(rsi, self.data.Close, self.n)

    def next(self):
        if self.rsi[-1] > 30 and not self.position:
            self.buy()

# %s
print(Backtest(pd.read_csv(DATA_PATH), RsiCross).run())
`, marker)
}

// Fenced wraps a program in the reply format the code stages expect
func Fenced(source string) string {
	return "Here is the program.\n```python\n" + source + "```\n"
}

// Report builds a stats report with return, drawdown and trade count
func Report(ret, drawdown float64, trades int) *domain.StatsReport {
	return &domain.StatsReport{ReturnPct: &ret, MaxDrawdown: &drawdown, TradeCount: &trades}
}
