package llm

import (
	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/models"
)

const tokensPerMillion = 1_000_000

// CostEstimate converts accumulated token usage to USD using per-MTok prices.
// Estimates are advisory: they annotate audit records and responses but
// never gate a request.
func CostEstimate(p *config.Pricing, usage models.TokenUsage) float64 {
	if p == nil {
		return 0
	}
	return float64(usage.Input)*p.InputPerMTok/tokensPerMillion +
		float64(usage.Output)*p.OutputPerMTok/tokensPerMillion +
		float64(usage.Cached)*p.CachedPerMTok/tokensPerMillion
}
