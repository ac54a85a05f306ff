package strategy

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/use-agent/urwa/learner"
	"github.com/use-agent/urwa/models"
	"github.com/use-agent/urwa/profile"
)

func profOf(s models.Strategy) *profile.SiteProfile {
	return &profile.SiteProfile{Domain: "example.com", RecommendedStrategy: s}
}

func TestChoose_ForcePinsSingleStrategy(t *testing.T) {
	order := Choose(profOf(models.StrategyLight), nil, models.StrategyUltra)
	assert.Equal(t, []models.Strategy{models.StrategyUltra}, order)
}

func TestChoose_LightRecommendationEscalatesFully(t *testing.T) {
	order := Choose(profOf(models.StrategyLight), nil, "")
	assert.Equal(t, []models.Strategy{
		models.StrategyLight, models.StrategyStealth, models.StrategyUltra,
	}, order)
}

func TestChoose_StealthRecommendationTailIsUltra(t *testing.T) {
	order := Choose(profOf(models.StrategyStealth), nil, "")
	assert.Equal(t, []models.Strategy{
		models.StrategyStealth, models.StrategyUltra,
	}, order)
}

func TestChoose_UltraRecommendationStandsAlone(t *testing.T) {
	order := Choose(profOf(models.StrategyUltra), nil, "")
	assert.Equal(t, []models.Strategy{models.StrategyUltra}, order)
}

func TestChoose_TrustedLighterStrategyLeads(t *testing.T) {
	// Light has earned trust on this domain; it leads even though the
	// profile recommends stealth.
	stats := map[models.Strategy]*learner.Stat{
		models.StrategyLight: {Attempts: 10, Successes: 9},
	}
	order := Choose(profOf(models.StrategyStealth), stats, "")
	assert.Equal(t, []models.Strategy{
		models.StrategyLight, models.StrategyStealth, models.StrategyUltra,
	}, order)
}

func TestChoose_UntrustedStatsDoNotBias(t *testing.T) {
	// Too few attempts: cold-start data must not promote a strategy.
	stats := map[models.Strategy]*learner.Stat{
		models.StrategyLight: {Attempts: 3, Successes: 3},
	}
	order := Choose(profOf(models.StrategyStealth), stats, "")
	assert.Equal(t, []models.Strategy{
		models.StrategyStealth, models.StrategyUltra,
	}, order)
}

func TestChoose_LowSuccessRateNotTrusted(t *testing.T) {
	stats := map[models.Strategy]*learner.Stat{
		models.StrategyLight: {Attempts: 20, Successes: 5},
	}
	order := Choose(profOf(models.StrategyStealth), stats, "")
	assert.Equal(t, []models.Strategy{
		models.StrategyStealth, models.StrategyUltra,
	}, order)
}

func TestChoose_AlwaysMonotone(t *testing.T) {
	// Property: whatever the inputs, the order is a subsequence of
	// [light, stealth, ultra].
	allStats := []map[models.Strategy]*learner.Stat{
		nil,
		{models.StrategyUltra: {Attempts: 50, Successes: 50}},
		{
			models.StrategyLight:   {Attempts: 10, Successes: 7},
			models.StrategyStealth: {Attempts: 10, Successes: 9},
			models.StrategyUltra:   {Attempts: 10, Successes: 10},
		},
	}
	for _, rec := range models.Strategies {
		for _, stats := range allStats {
			order := Choose(profOf(rec), stats, "")
			for i := 1; i < len(order); i++ {
				assert.Less(t, order[i-1].Rank(), order[i].Rank(),
					"order %v not monotone for rec=%s", order, rec)
			}
			assert.LessOrEqual(t, len(order), 3)
		}
	}
}
