package research

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/errors"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/operations/testutil"
	"github.com/vttilv/moon-dev-ai-agents-sub002/internal/prompts"
	"github.com/vttilv/moon-dev-ai-agents-sub002/pkg/contracts/domain"
)

const completeSpec = `## Market
BTC-USD spot.
## Timeframe
15 minute bars.
## Entry Rules
Buy when RSI(14) crosses above 30.
## Exit Rules
Sell when RSI crosses below 70.
## Risk Sizing
Position size 10% of equity.
## Indicators
RSI(14), SMA(50).`

const partialSpec = `## Market
BTC-USD spot.
## Entry Rules
Buy when RSI(14) crosses above 30.`

func TestMissing(t *testing.T) {
	tests := []struct {
		name string
		text string
		want []string
	}{
		{"complete", completeSpec, nil},
		{"synonyms", "Instrument: ES. Time frame: 1h. Entries on breakout, exit on close. Position sizing fixed. Indicator: ATR.", nil},
		{"partial", partialSpec, []string{"timeframe", "exit rules", "risk sizing", "indicators"}},
		{"empty", "", []string{"market", "timeframe", "entry rules", "exit rules", "risk sizing", "indicators"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Missing(tt.text))
		})
	}
}

func TestResearch_FirstTry(t *testing.T) {
	mock := testutil.NewMockLLM().On(domain.StageResearch, "```markdown\n"+completeSpec+"\n```")
	r := New(mock, prompts.Default(), Options{Model: "gpt-4o", MaxRetries: 2}, nil)

	spec, err := r.Research(context.Background(), "an RSI idea")
	require.NoError(t, err)
	assert.Equal(t, completeSpec+"\n", spec)

	calls := mock.CallsFor(domain.StageResearch)
	require.Len(t, calls, 1)
	assert.Equal(t, "gpt-4o", calls[0].Model)
	assert.Contains(t, calls[0].Prompt, "an RSI idea")
}

func TestResearch_CorrectiveRetry(t *testing.T) {
	mock := testutil.NewMockLLM().On(domain.StageResearch, partialSpec, completeSpec)
	r := New(mock, prompts.Default(), Options{Model: "m", MaxRetries: 2}, nil)

	spec, err := r.Research(context.Background(), "brief")
	require.NoError(t, err)
	assert.Contains(t, spec, "## Indicators")

	calls := mock.CallsFor(domain.StageResearch)
	require.Len(t, calls, 2)
	assert.NotContains(t, calls[0].System, "previous response was missing")
	assert.Contains(t, calls[1].System, "previous response was missing: timeframe, exit rules, risk sizing, indicators")
}

func TestResearch_ValidationExhausted(t *testing.T) {
	mock := testutil.NewMockLLM().On(domain.StageResearch, partialSpec)
	r := New(mock, prompts.Default(), Options{Model: "m", MaxRetries: 2}, nil)

	_, err := r.Research(context.Background(), "brief")
	require.Error(t, err)
	assert.Equal(t, errors.KindResearchValidation, errors.KindOf(err))
	assert.Len(t, mock.CallsFor(domain.StageResearch), 3)
	assert.Equal(t, domain.RunStatusResearchFailed, errors.TerminalStatusFor(domain.StageResearch, err))
}

func TestResearch_LLMFailure(t *testing.T) {
	mock := testutil.NewMockLLM()
	r := New(mock, prompts.Default(), Options{Model: "m"}, nil)

	_, err := r.Research(context.Background(), "brief")
	assert.Equal(t, errors.KindLLMExhausted, errors.KindOf(err))
}
