package threat

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/core"
)

func testScorer(t *testing.T) *Scorer {
	t.Helper()
	s, err := NewScorer(DefaultScorerConfig())
	require.NoError(t, err)
	return s
}

func result(score, confidence float64) core.ProviderResult {
	return core.ProviderResult{Score: score, Confidence: confidence}
}

func TestScorerConfigValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*ScorerConfig)
	}{
		{"negative amplifier max", func(c *ScorerConfig) { c.AmplifierMax = -1 }},
		{"amplifier max above 100", func(c *ScorerConfig) { c.AmplifierMax = 101 }},
		{"zero amplifier scale", func(c *ScorerConfig) { c.AmplifierScale = 0 }},
		{"zero freshness window", func(c *ScorerConfig) { c.FreshnessWindow = 0 }},
		{"zero half-life", func(c *ScorerConfig) { c.DecayHalfLife = 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultScorerConfig()
			tt.mutate(&cfg)
			_, err := NewScorer(cfg)
			assert.Error(t, err)
		})
	}
}

func TestScoreConfidenceWeightedMean(t *testing.T) {
	s := testScorer(t)
	now := time.Now()

	// Single provider: base equals its score regardless of confidence
	score, level := s.Score(core.IndicatorTypeIP,
		[]core.ProviderResult{result(80, 0.5)}, 1, now, now)
	assert.InDelta(t, 80, score, 0.001)
	assert.Equal(t, core.RiskLevelCritical, level)

	// Weighted mean: (80*0.9 + 40*0.3) / 1.2 = 70
	score, level = s.Score(core.IndicatorTypeIP,
		[]core.ProviderResult{result(80, 0.9), result(40, 0.3)}, 1, now, now)
	assert.InDelta(t, 70, score, 0.001)
	assert.Equal(t, core.RiskLevelHigh, level)
}

func TestScoreNoContributors(t *testing.T) {
	s := testScorer(t)
	now := time.Now()

	score, level := s.Score(core.IndicatorTypeDomain, nil, 1, now, now)
	assert.Zero(t, score)
	assert.Equal(t, core.RiskLevelLow, level)

	// Zero-confidence results carry no weight
	score, _ = s.Score(core.IndicatorTypeDomain,
		[]core.ProviderResult{result(90, 0)}, 1, now, now)
	assert.Zero(t, score)
}

func TestScoreSightingsAmplifier(t *testing.T) {
	s := testScorer(t)
	now := time.Now()
	results := []core.ProviderResult{result(40, 0.8)}

	// A single sighting adds nothing
	base, _ := s.Score(core.IndicatorTypeHash, results, 1, now, now)
	assert.InDelta(t, 40, base, 0.001)

	// Each extra sighting adds along a saturating curve
	prev := base
	for _, sightings := range []int64{2, 4, 8, 20, 100} {
		score, _ := s.Score(core.IndicatorTypeHash, results, sightings, now, now)
		assert.Greater(t, score, prev, "sightings=%d", sightings)
		prev = score
	}

	// The amplifier saturates at AmplifierMax over the base
	assert.LessOrEqual(t, prev, base+DefaultScorerConfig().AmplifierMax)
}

func TestScoreAmplifierTypeWeights(t *testing.T) {
	s := testScorer(t)
	now := time.Now()
	results := []core.ProviderResult{result(40, 0.8)}

	hashScore, _ := s.Score(core.IndicatorTypeHash, results, 10, now, now)
	urlScore, _ := s.Score(core.IndicatorTypeURL, results, 10, now, now)
	ipScore, _ := s.Score(core.IndicatorTypeIP, results, 10, now, now)
	domainScore, _ := s.Score(core.IndicatorTypeDomain, results, 10, now, now)

	// Repetition signals risk more strongly for hashes than for domains
	assert.Greater(t, hashScore, urlScore)
	assert.Greater(t, urlScore, ipScore)
	assert.Greater(t, ipScore, domainScore)
}

func TestScoreRecencyDecaysAmplifierOnly(t *testing.T) {
	cfg := DefaultScorerConfig()
	s, err := NewScorer(cfg)
	require.NoError(t, err)

	now := time.Now()
	results := []core.ProviderResult{result(60, 0.8)}

	fresh, _ := s.Score(core.IndicatorTypeHash, results, 10, now, now)
	staleSeen := now.Add(-cfg.FreshnessWindow - 2*cfg.DecayHalfLife)
	stale, _ := s.Score(core.IndicatorTypeHash, results, 10, staleSeen, now)

	// Staleness shrinks the amplifier but never the provider base
	assert.Less(t, stale, fresh)
	assert.GreaterOrEqual(t, stale, 60.0)

	// Within the freshness window nothing decays
	recent, _ := s.Score(core.IndicatorTypeHash, results, 10, now.Add(-time.Hour), now)
	assert.InDelta(t, fresh, recent, 0.001)
}

func TestScoreClamped(t *testing.T) {
	s := testScorer(t)
	now := time.Now()

	score, level := s.Score(core.IndicatorTypeHash,
		[]core.ProviderResult{result(100, 1.0)}, 1000, now, now)
	assert.LessOrEqual(t, score, 100.0)
	assert.Equal(t, core.RiskLevelCritical, level)

	// Out-of-range provider values are clamped before weighting
	score, _ = s.Score(core.IndicatorTypeIP,
		[]core.ProviderResult{{Score: 500, Confidence: 2.0}}, 1, now, now)
	assert.LessOrEqual(t, score, 100.0)
}

func TestScoreDeterministic(t *testing.T) {
	s := testScorer(t)
	now := time.Unix(1700000000, 0)
	seen := now.Add(-90 * 24 * time.Hour)
	results := []core.ProviderResult{result(55, 0.7), result(80, 0.4)}

	first, firstLevel := s.Score(core.IndicatorTypeURL, results, 7, seen, now)
	for i := 0; i < 10; i++ {
		score, level := s.Score(core.IndicatorTypeURL, results, 7, seen, now)
		assert.Equal(t, first, score)
		assert.Equal(t, firstLevel, level)
	}
}

func TestScoreBandBoundaries(t *testing.T) {
	s := testScorer(t)
	now := time.Now()

	tests := []struct {
		providerScore float64
		level         core.RiskLevel
	}{
		{74.999, core.RiskLevelHigh},
		{75, core.RiskLevelCritical},
		{49.999, core.RiskLevelMedium},
		{50, core.RiskLevelHigh},
		{24.999, core.RiskLevelLow},
		{25, core.RiskLevelMedium},
	}
	for _, tt := range tests {
		_, level := s.Score(core.IndicatorTypeIP,
			[]core.ProviderResult{result(tt.providerScore, 1.0)}, 1, now, now)
		assert.Equal(t, tt.level, level, "provider score %v", tt.providerScore)
	}
}
