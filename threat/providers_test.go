package threat

import (
	"context"
	"encoding/base64"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"threatlens/core"
)

// ============================================================================
// VirusTotal
// ============================================================================

func TestVirusTotalScoreFromDetectionRatio(t *testing.T) {
	server := NewMockIntelServer(10, 50)
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.NoError(t, err)

	assert.Equal(t, "virustotal", result.Provider)
	assert.InDelta(t, 20.0, result.Score, 0.001)
	assert.InDelta(t, 50.0/70.0, result.Confidence, 0.001)
	assert.Contains(t, result.Tags, "mock")
	assert.NotEmpty(t, result.Raw)
}

func TestVirusTotalConfidenceCapped(t *testing.T) {
	server := NewMockIntelServer(90, 90)
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeHash, "d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)

	assert.InDelta(t, 100.0, result.Score, 0.001)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
}

func TestVirusTotalNotFoundIsCleanVerdict(t *testing.T) {
	server := NewMockIntelServer(0, 0)
	server.SetStatus(http.StatusNotFound)
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeDomain, "unseen.example")
	require.NoError(t, err)

	assert.Zero(t, result.Score)
	assert.Zero(t, result.Confidence)
}

func TestVirusTotalRateLimitCarriesRetryAfter(t *testing.T) {
	server := NewMockIntelServer(0, 0)
	server.SetStatus(http.StatusTooManyRequests)
	server.SetRetryAfter("30")
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	_, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrRateLimited, pe.Kind)
	assert.Equal(t, 30*time.Second, pe.RetryAfter)
	assert.True(t, pe.Retryable())
	assert.False(t, pe.TripsBreaker())
}

func TestVirusTotalServerErrorIsUnavailable(t *testing.T) {
	server := NewMockIntelServer(0, 0)
	server.SetStatus(http.StatusInternalServerError)
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	_, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrUnavailable, pe.Kind)
	assert.True(t, pe.TripsBreaker())
}

func TestVirusTotalBadRequestIsInvalidIndicator(t *testing.T) {
	server := NewMockIntelServer(0, 0)
	server.SetStatus(http.StatusBadRequest)
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL()

	_, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrInvalidIndicator, pe.Kind)
	assert.False(t, pe.Retryable())
}

func TestVirusTotalURLLookupUsesBase64ID(t *testing.T) {
	var gotPath string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL

	rawURL := "https://evil.test/payload.exe"
	_, err := provider.Lookup(context.Background(), core.IndicatorTypeURL, rawURL)
	require.NoError(t, err)

	want := "/urls/" + base64.RawURLEncoding.EncodeToString([]byte(rawURL))
	assert.Equal(t, want, gotPath)
}

func TestVirusTotalDeadlineClassifiedAsTimeout(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	provider := NewVirusTotalProvider("test-key")
	provider.baseURL = server.URL

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := provider.Lookup(ctx, core.IndicatorTypeIP, "203.0.113.7")
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrTimeout, pe.Kind)
}

// ============================================================================
// AbuseIPDB
// ============================================================================

func abuseIPDBServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("Key"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestAbuseIPDBScoreAndTags(t *testing.T) {
	server := abuseIPDBServer(t, `{
		"data": {
			"abuseConfidenceScore": 75,
			"usageType": "Data Center/Web Hosting/Transit",
			"isWhitelisted": false,
			"totalReports": 10,
			"reports": [{"categories": [18, 22]}]
		}
	}`)
	defer server.Close()

	provider := NewAbuseIPDBProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "198.51.100.4")
	require.NoError(t, err)

	assert.Equal(t, "abuseipdb", result.Provider)
	assert.InDelta(t, 75.0, result.Score, 0.001)
	assert.InDelta(t, 0.5, result.Confidence, 0.001)
	assert.Contains(t, result.Tags, "Brute Force")
	assert.Contains(t, result.Tags, "SSH")
	assert.Contains(t, result.Tags, "Data Center/Web Hosting/Transit")
}

func TestAbuseIPDBWhitelistedScoresZero(t *testing.T) {
	server := abuseIPDBServer(t, `{
		"data": {
			"abuseConfidenceScore": 40,
			"isWhitelisted": true,
			"totalReports": 100,
			"reports": []
		}
	}`)
	defer server.Close()

	provider := NewAbuseIPDBProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "198.51.100.4")
	require.NoError(t, err)

	assert.Zero(t, result.Score)
	assert.InDelta(t, 0.9, result.Confidence, 0.001, "confidence is capped")
}

func TestAbuseIPDBRejectsNonIPWithoutCalling(t *testing.T) {
	var called bool
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer server.Close()

	provider := NewAbuseIPDBProvider("test-key")
	provider.baseURL = server.URL

	_, err := provider.Lookup(context.Background(), core.IndicatorTypeDomain, "evil.test")
	require.Error(t, err)

	pe, ok := core.AsProviderError(err)
	require.True(t, ok)
	assert.Equal(t, core.ProviderErrInvalidIndicator, pe.Kind)
	assert.False(t, called)
}

// ============================================================================
// AlienVault OTX
// ============================================================================

func otxServer(t *testing.T, body string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.NotEmpty(t, r.Header.Get("X-OTX-API-KEY"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, body)
	}))
}

func TestOTXScoreFromPulseCount(t *testing.T) {
	server := otxServer(t, `{
		"pulse_info": {
			"count": 3,
			"pulses": [{"tags": ["malware", "c2"]}, {"tags": ["c2"]}]
		},
		"reputation": 0
	}`)
	defer server.Close()

	provider := NewAlienVaultOTXProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeDomain, "evil.test")
	require.NoError(t, err)

	assert.Equal(t, "otx", result.Provider)
	assert.InDelta(t, 30.0, result.Score, 0.001)
	assert.InDelta(t, 0.3, result.Confidence, 0.001)
	assert.ElementsMatch(t, []string{"malware", "c2"}, result.Tags)
}

func TestOTXScoreCappedAtHundred(t *testing.T) {
	server := otxServer(t, `{"pulse_info": {"count": 25, "pulses": []}, "reputation": 0}`)
	defer server.Close()

	provider := NewAlienVaultOTXProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.NoError(t, err)

	assert.InDelta(t, 100.0, result.Score, 0.001)
	assert.InDelta(t, 0.95, result.Confidence, 0.001)
}

func TestOTXNegativeReputationFloorsScore(t *testing.T) {
	server := otxServer(t, `{"pulse_info": {"count": 1, "pulses": []}, "reputation": -2}`)
	defer server.Close()

	provider := NewAlienVaultOTXProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeIP, "203.0.113.7")
	require.NoError(t, err)

	assert.InDelta(t, 50.0, result.Score, 0.001)
}

func TestOTXNotFoundIsCleanVerdict(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	provider := NewAlienVaultOTXProvider("test-key")
	provider.baseURL = server.URL

	result, err := provider.Lookup(context.Background(), core.IndicatorTypeHash, "d41d8cd98f00b204e9800998ecf8427e")
	require.NoError(t, err)

	assert.Zero(t, result.Score)
	assert.Zero(t, result.Confidence)
}

func TestProviderTypeSupport(t *testing.T) {
	vt := NewVirusTotalProvider("k")
	abuse := NewAbuseIPDBProvider("k")
	otx := NewAlienVaultOTXProvider("k")

	for _, indicatorType := range []core.IndicatorType{core.IndicatorTypeIP, core.IndicatorTypeDomain, core.IndicatorTypeHash, core.IndicatorTypeURL} {
		assert.True(t, vt.Supports(indicatorType))
		assert.True(t, otx.Supports(indicatorType))
	}
	assert.True(t, abuse.Supports(core.IndicatorTypeIP))
	assert.False(t, abuse.Supports(core.IndicatorTypeDomain))
	assert.False(t, abuse.Supports(core.IndicatorTypeHash))
	assert.False(t, abuse.Supports(core.IndicatorTypeURL))
}
