package stats

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const backtestingPyOutput = `Start                     2023-01-01 00:00:00
End                       2023-12-31 23:45:00
Duration                    364 days 23:45:00
Exposure Time [%]                   42.118
Equity Final [$]                 1,123,456.7
Return [%]                          12.3457
Buy & Hold Return [%]               155.23
Return (Ann.) [%]                   12.40
Sharpe Ratio                        0.8731
Sortino Ratio                        1.402
Max. Drawdown [%]                  -15.302
# Trades                              1,204
Win Rate [%]                          nan
_strategy                 RsiMaCross
`

func TestParse_PandasLayout(t *testing.T) {
	r, err := Parse(backtestingPyOutput)
	require.NoError(t, err)

	require.NotNil(t, r.ReturnPct)
	assert.InDelta(t, 12.3457, *r.ReturnPct, 1e-9)
	require.NotNil(t, r.Sharpe)
	assert.InDelta(t, 0.8731, *r.Sharpe, 1e-9)
	require.NotNil(t, r.MaxDrawdown)
	assert.InDelta(t, -15.302, *r.MaxDrawdown, 1e-9)
	require.NotNil(t, r.TradeCount)
	assert.Equal(t, 1204, *r.TradeCount)
	assert.Nil(t, r.WinRatePct, "nan must parse as unknown, not zero")
}

func TestParse_ColonLayout(t *testing.T) {
	tests := []struct {
		name  string
		input string
		check func(t *testing.T, text string)
	}{
		{
			name:  "percent suffix and case",
			input: "RETURN [%]: 12.5%\nsharpe ratio: 1.2e-1\n",
			check: func(t *testing.T, text string) {
				r, err := Parse(text)
				require.NoError(t, err)
				assert.Equal(t, 12.5, *r.ReturnPct)
				assert.Equal(t, 0.12, *r.Sharpe)
				assert.Nil(t, r.TradeCount)
			},
		},
		{
			name:  "last occurrence wins",
			input: "# Trades: 3\nprogress...\n# Trades: 25\n",
			check: func(t *testing.T, text string) {
				r, err := Parse(text)
				require.NoError(t, err)
				assert.Equal(t, 25, *r.TradeCount)
			},
		},
		{
			name:  "infinite value is unknown",
			input: "Sharpe Ratio: inf\nReturn [%]: 4\n",
			check: func(t *testing.T, text string) {
				r, err := Parse(text)
				require.NoError(t, err)
				assert.Nil(t, r.Sharpe)
			},
		},
		{
			name:  "unrecognised lines are ignored",
			input: "Profit Factor: 2.1\nWin Rate [%]: 48.0\n",
			check: func(t *testing.T, text string) {
				r, err := Parse(text)
				require.NoError(t, err)
				assert.Equal(t, 48.0, *r.WinRatePct)
				assert.Nil(t, r.ReturnPct)
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.check(t, tt.input)
		})
	}
}

func TestParse_Failures(t *testing.T) {
	for _, text := range []string{
		"",
		"Backtest finished\n",
		"Sharpe Ratio: nan\nWin Rate [%]: NaN\n",
		"Return [%]: lots\n",
	} {
		_, err := Parse(text)
		assert.ErrorIs(t, err, ErrNoMetrics, text)
	}
}

func TestParse_Idempotent(t *testing.T) {
	inputs := []string{
		backtestingPyOutput,
		"Return [%]: -3.25\n# Trades: 0\nSharpe Ratio: nan\n",
		"Max. Drawdown [%]: 1e21\n",
	}
	for _, in := range inputs {
		first, err := Parse(in)
		require.NoError(t, err)
		second, err := Parse(Render(first))
		require.NoError(t, err)
		assert.True(t, Equal(first, second), Render(first))
		assert.Equal(t, Render(first), Render(second))
	}
}

func TestRender_CanonicalOrder(t *testing.T) {
	r, err := Parse("# Trades 7\nReturn [%] 1.5\n")
	require.NoError(t, err)
	assert.Equal(t, "Return [%]: 1.5\n# Trades: 7\n", Render(r))
	assert.Equal(t, "", Render(nil))
}
