package analysis

import (
	"regexp"
	"strconv"
	"strings"
)

// Metrics are the structured values a consumer can chart. Scores are 0-100;
// zero means the value was not found.
type Metrics struct {
	Confidence     int       `json:"confidence"`
	TrendStrength  int       `json:"trendStrength"`
	TrendDirection string    `json:"trendDirection,omitempty"`
	RiskLevel      int       `json:"riskLevel"`
	CurrentPrice   float64   `json:"currentPrice"`
	Targets        []float64 `json:"targets"`
	RSI            *int      `json:"rsi,omitempty"`
	Volume         *int      `json:"volume,omitempty"`
}

var (
	confidenceRe = regexp.MustCompile(`(?i)Confidence Level: (High|Medium|Low)`)
	trendRe      = regexp.MustCompile(`(?i)Direction:\s*(Bull|Bear)\s*\((?:Strength\s*)?(\d+)/5\)`)
	riskRe       = regexp.MustCompile(`(?i)Risk:\s*(High|Medium|Low)`)
	priceRe      = regexp.MustCompile(`(?:Current Price|Target \d+|Stop Loss):\s*\$?([\d,.]+)`)
	rsiRe        = regexp.MustCompile(`(?i)RSI:\s*(\d+)`)
	volumeRe     = regexp.MustCompile(`(?i)Volume:\s*(High|Medium|Low)`)
)

// ParseMetrics extracts scores and price levels from analysis text. The first
// price found is the current price; the rest are targets. It returns nil for
// empty text.
func ParseMetrics(text string) *Metrics {
	if text == "" {
		return nil
	}
	m := &Metrics{Targets: []float64{}}

	if g := confidenceRe.FindStringSubmatch(text); g != nil {
		m.Confidence = levelScore(g[1], 90, 60, 30)
	}
	if g := trendRe.FindStringSubmatch(text); g != nil {
		if n, err := strconv.Atoi(g[2]); err == nil {
			m.TrendStrength = n * 100 / 5
		}
		m.TrendDirection = strings.ToLower(g[1])
	}
	if g := riskRe.FindStringSubmatch(text); g != nil {
		m.RiskLevel = levelScore(g[1], 80, 50, 20)
	}

	var prices []float64
	for _, g := range priceRe.FindAllStringSubmatch(text, -1) {
		p, err := strconv.ParseFloat(strings.ReplaceAll(g[1], ",", ""), 64)
		if err != nil {
			continue
		}
		prices = append(prices, p)
	}
	if len(prices) > 0 {
		m.CurrentPrice = prices[0]
		m.Targets = prices[1:]
	}

	if g := rsiRe.FindStringSubmatch(text); g != nil {
		if n, err := strconv.Atoi(g[1]); err == nil {
			m.RSI = &n
		}
	}
	if g := volumeRe.FindStringSubmatch(text); g != nil {
		v := levelScore(g[1], 90, 60, 30)
		m.Volume = &v
	}
	return m
}

func levelScore(level string, high, medium, low int) int {
	switch strings.ToLower(level) {
	case "high":
		return high
	case "medium":
		return medium
	case "low":
		return low
	}
	return 0
}
