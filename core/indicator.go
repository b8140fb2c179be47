package core

import (
	"encoding/json"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Indicator Types and Constants
// =============================================================================

// IndicatorType represents the type of indicator of compromise
type IndicatorType string

const (
	IndicatorTypeIP     IndicatorType = "ip"
	IndicatorTypeDomain IndicatorType = "domain"
	IndicatorTypeURL    IndicatorType = "url"
	IndicatorTypeHash   IndicatorType = "hash" // MD5, SHA1, SHA256, SHA512
)

// AllIndicatorTypes returns all valid indicator types for validation
var AllIndicatorTypes = []IndicatorType{
	IndicatorTypeIP, IndicatorTypeDomain, IndicatorTypeURL, IndicatorTypeHash,
}

// IsValid checks if the indicator type is valid
func (t IndicatorType) IsValid() bool {
	for _, valid := range AllIndicatorTypes {
		if t == valid {
			return true
		}
	}
	return false
}

// RiskLevel represents the discrete risk band derived from a risk score
type RiskLevel string

const (
	RiskLevelCritical RiskLevel = "critical"
	RiskLevelHigh     RiskLevel = "high"
	RiskLevelMedium   RiskLevel = "medium"
	RiskLevelLow      RiskLevel = "low"
)

// Risk band thresholds. These are a stable contract consumed by downstream
// views and must not change without versioning.
const (
	RiskThresholdCritical = 75.0
	RiskThresholdHigh     = 50.0
	RiskThresholdMedium   = 25.0
)

// RiskLevelForScore maps a 0-100 risk score to its band. Boundaries are
// inclusive on the lower bound of each band.
func RiskLevelForScore(score float64) RiskLevel {
	switch {
	case score >= RiskThresholdCritical:
		return RiskLevelCritical
	case score >= RiskThresholdHigh:
		return RiskLevelHigh
	case score >= RiskThresholdMedium:
		return RiskLevelMedium
	default:
		return RiskLevelLow
	}
}

// =============================================================================
// Indicator Value Validation and Normalization
// =============================================================================

var (
	// Domain pattern - ReDoS-safe, label rules per RFC 1035
	domainPattern = regexp.MustCompile(`^(?:[a-z0-9](?:[a-z0-9-]{0,61}[a-z0-9])?\.)+[a-z]{2,}$`)
	// Hash pattern - MD5(32), SHA1(40), SHA256(64), SHA512(128)
	hashPattern = regexp.MustCompile(`^[a-fA-F0-9]{32}$|^[a-fA-F0-9]{40}$|^[a-fA-F0-9]{64}$|^[a-fA-F0-9]{128}$`)
)

// MaxIndicatorValueLength bounds stored indicator values
const MaxIndicatorValueLength = 4096

// ValidateIndicatorValue validates an indicator value based on its type
func ValidateIndicatorValue(indicatorType IndicatorType, value string) error {
	if value == "" {
		return fmt.Errorf("indicator value cannot be empty")
	}
	if len(value) > MaxIndicatorValueLength {
		return fmt.Errorf("indicator value exceeds maximum length of %d characters", MaxIndicatorValueLength)
	}

	normalized := strings.TrimSpace(value)

	switch indicatorType {
	case IndicatorTypeIP:
		if net.ParseIP(normalized) == nil {
			return fmt.Errorf("invalid IP address format")
		}
	case IndicatorTypeDomain:
		if !domainPattern.MatchString(strings.ToLower(normalized)) {
			return fmt.Errorf("invalid domain format")
		}
	case IndicatorTypeHash:
		if !hashPattern.MatchString(normalized) {
			return fmt.Errorf("invalid hash format (must be MD5/SHA1/SHA256/SHA512)")
		}
	case IndicatorTypeURL:
		parsed, err := url.ParseRequestURI(normalized)
		if err != nil {
			return fmt.Errorf("invalid URL format: %w", err)
		}
		if parsed.Scheme != "http" && parsed.Scheme != "https" {
			return fmt.Errorf("URL must use http or https scheme")
		}
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedType, indicatorType)
	}

	return nil
}

// NormalizeIndicatorValue normalizes an indicator value for consistent
// storage and matching. Identity of an indicator is (type, normalized value).
func NormalizeIndicatorValue(indicatorType IndicatorType, value string) string {
	normalized := strings.Trim(strings.TrimSpace(value), ".,;:!?'\"()[]{}")

	switch indicatorType {
	case IndicatorTypeIP:
		// IPs are case-insensitive (IPv6 hex)
		return strings.ToLower(normalized)
	case IndicatorTypeDomain:
		return strings.ToLower(normalized)
	case IndicatorTypeHash:
		// Hashes are hex, canonical form is lowercase
		return strings.ToLower(normalized)
	case IndicatorTypeURL:
		// Lowercase scheme and host, preserve path/query case
		if parsed, err := url.Parse(normalized); err == nil {
			parsed.Scheme = strings.ToLower(parsed.Scheme)
			parsed.Host = strings.ToLower(parsed.Host)
			return parsed.String()
		}
		return normalized
	default:
		return normalized
	}
}

// IndicatorKey builds the canonical cache/store key for an indicator identity
func IndicatorKey(indicatorType IndicatorType, normalizedValue string) string {
	return string(indicatorType) + ":" + normalizedValue
}

// =============================================================================
// Indicator
// =============================================================================

// Indicator represents a persistent indicator of compromise extracted from
// article text. Indicators are append-only: sighting counts increment and
// enrichment is refreshed, but an indicator is never deleted.
type Indicator struct {
	ID        string        `json:"id"`
	Type      IndicatorType `json:"type"`
	Value     string        `json:"value"` // Normalized value
	Source    string        `json:"source,omitempty"`
	Sightings int64         `json:"sightings"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// Key returns the canonical identity key for this indicator
func (i *Indicator) Key() string {
	return IndicatorKey(i.Type, i.Value)
}

// NewIndicator creates a new indicator with generated ID, normalizing and
// validating the value
func NewIndicator(indicatorType IndicatorType, value, source string) (*Indicator, error) {
	if !indicatorType.IsValid() {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedType, indicatorType)
	}

	normalized := NormalizeIndicatorValue(indicatorType, value)
	if err := ValidateIndicatorValue(indicatorType, normalized); err != nil {
		return nil, fmt.Errorf("invalid indicator value: %w", err)
	}

	now := time.Now().UTC()
	return &Indicator{
		ID:        uuid.New().String(),
		Type:      indicatorType,
		Value:     normalized,
		Source:    source,
		Sightings: 0,
		FirstSeen: now,
		LastSeen:  now,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// =============================================================================
// Provider Results and Enrichment
// =============================================================================

// ProviderResult is one provider's view of one indicator at a point in time.
// Results are immutable once recorded and superseded, not mutated, on refresh.
type ProviderResult struct {
	Provider   string          `json:"provider"`
	Type       IndicatorType   `json:"type"`
	Indicator  string          `json:"indicator"`  // Normalized value
	Score      float64         `json:"score"`      // Reputation normalized to 0-100
	Confidence float64         `json:"confidence"` // 0-1
	Tags       []string        `json:"tags,omitempty"`
	Raw        json.RawMessage `json:"raw,omitempty"` // Opaque provider payload
	FetchedAt  time.Time       `json:"fetched_at"`
}

// Enrichment is the aggregated, authoritative view of an indicator. At most
// one enrichment is current per indicator; it is recomputed whenever a new
// provider result arrives or the sighting count changes.
type Enrichment struct {
	IndicatorKey string           `json:"indicator_key"`
	RiskScore    float64          `json:"risk_score"` // 0-100
	RiskLevel    RiskLevel        `json:"risk_level"`
	Confidence   float64          `json:"confidence"` // Aggregate source confidence, 0-1
	Sightings    int64            `json:"sightings"`
	LastSeen     time.Time        `json:"last_seen"`
	Tags         []string         `json:"tags,omitempty"` // Union across providers
	Providers    []ProviderResult `json:"providers,omitempty"`
	Degraded     bool             `json:"degraded"`    // A required provider failed
	Unavailable  bool             `json:"unavailable"` // All providers failed; not "confirmed benign"
	GeneratedAt  time.Time        `json:"generated_at"`
}

// Age returns how old this enrichment is relative to now
func (e *Enrichment) Age(now time.Time) time.Duration {
	return now.Sub(e.GeneratedAt)
}

// Fresh reports whether the enrichment is younger than ttl
func (e *Enrichment) Fresh(now time.Time, ttl time.Duration) bool {
	return e.Age(now) < ttl
}
