package analysis

import (
	"testing"

	"github.com/Akshay-Anand-Code/chart-analyzer/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fullAnalysis = `ETH/USDT 1D: consolidating under resistance

📈 Trend:
- Direction: Bear (Strength 3/5)

📉 Indicators:
- RSI: 41
- Volume: Medium

🎯 EXIT PLAN
- Current Price: $2,450.50
- Stop Loss: 2,600
- Target 1: $2,300
- Target 2: 2,150.25

✅ Confidence Level: Medium
- Reason: range-bound

📉 RISK LEVEL
- Risk: High`

func TestParseMetrics_Full(t *testing.T) {
	m := ParseMetrics(fullAnalysis)
	require.NotNil(t, m)
	assert.Equal(t, 60, m.Confidence)
	assert.Equal(t, 80, m.RiskLevel)
	assert.Equal(t, "bear", m.TrendDirection)
	assert.Equal(t, 60, m.TrendStrength)
	assert.InDelta(t, 2450.50, m.CurrentPrice, 1e-9)
	assert.Equal(t, []float64{2600, 2300, 2150.25}, m.Targets)
	require.NotNil(t, m.RSI)
	assert.Equal(t, 41, *m.RSI)
	require.NotNil(t, m.Volume)
	assert.Equal(t, 60, *m.Volume)
}

func TestParseMetrics_TrendStrength(t *testing.T) {
	m := ParseMetrics("Direction: Bull (4/5)")
	assert.Equal(t, 80, m.TrendStrength)
	assert.Equal(t, "bull", m.TrendDirection)
}

func TestParseMetrics_Missing(t *testing.T) {
	assert.Nil(t, ParseMetrics(""))

	m := ParseMetrics("nothing structured here")
	require.NotNil(t, m)
	assert.Zero(t, m.Confidence)
	assert.Zero(t, m.CurrentPrice)
	assert.Empty(t, m.Targets)
	assert.Nil(t, m.RSI)
	assert.Nil(t, m.Volume)
}

func TestCheck(t *testing.T) {
	assert.NoError(t, Check("BTC looks strong"))

	err := Check("Following the TEMPLATE below")
	var invalid *domain.InvalidResponseError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "template", invalid.Marker)

	assert.Error(t, Check("I cannot analyze images of people"))
	assert.Error(t, Check("\n\t "))
}

func TestAttribute(t *testing.T) {
	assert.Equal(t, "Analysis for @alice:\n\nbody", Attribute("alice", "body"))
	assert.Equal(t, "Analysis for @anonymous:\n\nbody", Attribute("", "body"))
}
