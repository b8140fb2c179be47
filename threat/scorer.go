package threat

import (
	"errors"
	"math"
	"time"

	"threatlens/core"
)

// ScorerConfig tunes the sightings amplifier and recency decay. The exact
// curve is policy, not law: it lives behind the scorer so deployments can
// tune it without touching aggregation.
type ScorerConfig struct {
	// AmplifierMax is the most points repeated sightings can add on top of
	// the provider base score. Kept small so a single high-confidence
	// malicious verdict always dominates a benign sightings floor.
	AmplifierMax float64
	// AmplifierScale is the e-folding sighting count of the saturating
	// amplifier curve: amp = AmplifierMax * (1 - exp(-(s-1)/scale))
	AmplifierScale float64
	// FreshnessWindow is how long a sighting counts as fresh. Only staleness
	// beyond this window decays the amplifier.
	FreshnessWindow time.Duration
	// DecayHalfLife halves the amplifier contribution for every half-life
	// the indicator stays unseen beyond the freshness window. The provider
	// base score never decays: an old but provider-confirmed-malicious
	// indicator stays risky.
	DecayHalfLife time.Duration
	// TypeWeights scales the amplifier per indicator type, reflecting how
	// strongly repetition signals risk for each artifact class.
	TypeWeights map[core.IndicatorType]float64
}

// DefaultScorerConfig returns the standard scoring policy
func DefaultScorerConfig() ScorerConfig {
	return ScorerConfig{
		AmplifierMax:    15,
		AmplifierScale:  5,
		FreshnessWindow: 30 * 24 * time.Hour,
		DecayHalfLife:   30 * 24 * time.Hour,
		TypeWeights: map[core.IndicatorType]float64{
			core.IndicatorTypeHash:   1.0,
			core.IndicatorTypeURL:    0.8,
			core.IndicatorTypeIP:     0.6,
			core.IndicatorTypeDomain: 0.5,
		},
	}
}

// Validate checks the scoring policy for nonsense values
func (c *ScorerConfig) Validate() error {
	if c.AmplifierMax < 0 || c.AmplifierMax > 100 {
		return errors.New("AmplifierMax must be within [0, 100]")
	}
	if c.AmplifierScale <= 0 {
		return errors.New("AmplifierScale must be greater than 0")
	}
	if c.FreshnessWindow <= 0 {
		return errors.New("FreshnessWindow must be greater than 0")
	}
	if c.DecayHalfLife <= 0 {
		return errors.New("DecayHalfLife must be greater than 0")
	}
	return nil
}

// Scorer turns aggregated provider data and sighting history into a 0-100
// risk score and a discrete level. Scoring is pure and deterministic:
// identical inputs always produce identical output.
type Scorer struct {
	config ScorerConfig
}

// NewScorer creates a scorer with the given policy
func NewScorer(config ScorerConfig) (*Scorer, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{config: config}, nil
}

// MustNewScorer creates a scorer or panics on invalid policy
func MustNewScorer(config ScorerConfig) *Scorer {
	s, err := NewScorer(config)
	if err != nil {
		panic(err)
	}
	return s
}

// Score computes the risk score and level for one indicator.
//
// The base component is the confidence-weighted mean of provider scores; a
// provider that failed contributes nothing rather than an averaged-in zero.
// Repeated independent sightings nudge the score upward along a saturating
// curve, and that amplifier alone decays when the indicator goes unseen
// beyond the freshness window. Output is clamped to [0, 100].
func (s *Scorer) Score(indicatorType core.IndicatorType, results []core.ProviderResult, sightings int64, lastSeen, now time.Time) (float64, core.RiskLevel) {
	base := s.baseScore(results)
	amp := s.amplifier(indicatorType, sightings) * s.decayFactor(lastSeen, now)

	score := clamp(base+amp, 0, 100)
	return score, core.RiskLevelForScore(score)
}

// baseScore is the confidence-weighted mean of provider base scores; 0 when
// no provider contributed
func (s *Scorer) baseScore(results []core.ProviderResult) float64 {
	var weighted, weights float64
	for _, r := range results {
		conf := clamp(r.Confidence, 0, 1)
		weighted += clamp(r.Score, 0, 100) * conf
		weights += conf
	}
	if weights == 0 {
		return 0
	}
	return weighted / weights
}

// amplifier is a saturating function of the sighting count, scaled per type
func (s *Scorer) amplifier(indicatorType core.IndicatorType, sightings int64) float64 {
	if sightings <= 1 {
		return 0
	}
	weight, ok := s.config.TypeWeights[indicatorType]
	if !ok {
		weight = 1
	}
	saturation := 1 - math.Exp(-float64(sightings-1)/s.config.AmplifierScale)
	return s.config.AmplifierMax * weight * saturation
}

// decayFactor halves the amplifier for every half-life the indicator stays
// unseen beyond the freshness window
func (s *Scorer) decayFactor(lastSeen, now time.Time) float64 {
	if lastSeen.IsZero() {
		return 1
	}
	stale := now.Sub(lastSeen) - s.config.FreshnessWindow
	if stale <= 0 {
		return 1
	}
	return math.Exp2(-stale.Hours() / s.config.DecayHalfLife.Hours())
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
