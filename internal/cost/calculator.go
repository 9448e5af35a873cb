package cost

import (
	"go.uber.org/zap"

	"github.com/sells-group/slot-ingest/internal/config"
)

// Rates holds per-provider pricing configuration.
type Rates struct {
	Gemini    map[string]ModelRate `yaml:"gemini" mapstructure:"gemini"`
	Anthropic map[string]ModelRate `yaml:"anthropic" mapstructure:"anthropic"`
}

// ModelRate holds per-model token pricing (per million tokens).
type ModelRate struct {
	Input  float64 `yaml:"input" mapstructure:"input"`
	Output float64 `yaml:"output" mapstructure:"output"`
}

// Calculator computes costs for API usage.
type Calculator struct {
	rates Rates
}

// NewCalculator creates a Calculator with the given rates.
func NewCalculator(rates Rates) *Calculator {
	return &Calculator{rates: rates}
}

// FromConfig builds a Calculator from configured Gemini pricing. Models
// absent from the configuration keep their built-in rate.
func FromConfig(cfg config.PricingConfig) *Calculator {
	rates := DefaultRates()
	for model, p := range cfg.Gemini {
		rates.Gemini[model] = ModelRate{Input: p.Input, Output: p.Output}
	}
	return NewCalculator(rates)
}

// Gemini computes the cost for a Gemini generateContent call.
func (c *Calculator) Gemini(model string, input, output int) float64 {
	return tokenCost(c.rates.Gemini, model, input, output)
}

// Claude computes the cost for a Claude message call.
func (c *Calculator) Claude(model string, input, output int) float64 {
	return tokenCost(c.rates.Anthropic, model, input, output)
}

// Attribute computes the cost of one AI call and logs it. Unknown models
// are logged at zero cost.
func (c *Calculator) Attribute(provider, model, purpose string, input, output int) float64 {
	var usd float64
	switch provider {
	case "gemini":
		usd = c.Gemini(model, input, output)
	case "anthropic":
		usd = c.Claude(model, input, output)
	}
	zap.L().Info("cost attribution",
		zap.String("provider", provider),
		zap.String("model", model),
		zap.String("purpose", purpose),
		zap.Int("input_tokens", input),
		zap.Int("output_tokens", output),
		zap.Float64("estimated_usd", usd),
	)
	return usd
}

func tokenCost(table map[string]ModelRate, model string, input, output int) float64 {
	rate, ok := table[model]
	if !ok {
		return 0
	}
	return (float64(input)/1e6)*rate.Input + (float64(output)/1e6)*rate.Output
}

// DefaultRates returns the default pricing rates.
func DefaultRates() Rates {
	return Rates{
		Gemini: map[string]ModelRate{
			"gemini-2.0-flash":      {Input: 0.10, Output: 0.40},
			"gemini-2.0-flash-lite": {Input: 0.075, Output: 0.30},
			"gemini-2.5-flash":      {Input: 0.30, Output: 2.50},
			"gemini-2.5-pro":        {Input: 1.25, Output: 10.00},
		},
		Anthropic: map[string]ModelRate{
			"claude-haiku-4-5-20251001":  {Input: 0.80, Output: 4.00},
			"claude-sonnet-4-5-20250929": {Input: 3.00, Output: 15.00},
		},
	}
}
