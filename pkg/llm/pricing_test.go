package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/bridgy/pkg/config"
	"github.com/codeready-toolchain/bridgy/pkg/models"
)

func TestCostEstimate(t *testing.T) {
	pricing := &config.Pricing{
		InputPerMTok:  0.80,
		OutputPerMTok: 4.00,
		CachedPerMTok: 0.08,
	}

	tests := []struct {
		name  string
		usage models.TokenUsage
		want  float64
	}{
		{
			name:  "zero usage costs nothing",
			usage: models.TokenUsage{},
			want:  0,
		},
		{
			name:  "one million input tokens",
			usage: models.TokenUsage{Input: 1_000_000},
			want:  0.80,
		},
		{
			name:  "mixed usage",
			usage: models.TokenUsage{Input: 500_000, Output: 250_000, Cached: 1_000_000},
			want:  0.40 + 1.00 + 0.08,
		},
		{
			name:  "small request",
			usage: models.TokenUsage{Input: 1200, Output: 80},
			want:  1200*0.80/1_000_000 + 80*4.00/1_000_000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CostEstimate(pricing, tt.usage), 1e-12)
		})
	}
}

func TestCostEstimateNilPricing(t *testing.T) {
	usage := models.TokenUsage{Input: 1_000_000, Output: 1_000_000}
	assert.Zero(t, CostEstimate(nil, usage))
}
