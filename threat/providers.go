package threat

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"threatlens/core"
)

const maxProviderResponseBytes = 4 << 20

// newProviderClient builds the HTTP client shared by all provider adapters
func newProviderClient() *http.Client {
	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12, // Enforce TLS 1.2 minimum
	}
	transport := &http.Transport{
		TLSClientConfig: tlsConfig,
	}
	return &http.Client{
		Timeout:   15 * time.Second,
		Transport: transport,
	}
}

// classifyHTTPError maps transport failures and non-2xx statuses onto the
// provider error taxonomy. A 404 is not an error: callers treat "not found"
// as a clean verdict before reaching this point.
func classifyHTTPError(provider string, resp *http.Response, err error) error {
	if err != nil {
		if ctxErr := contextKind(err); ctxErr != "" {
			return core.NewProviderError(provider, ctxErr, err)
		}
		return core.NewProviderError(provider, core.ProviderErrUnavailable, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return &core.ProviderError{
			Provider:   provider,
			Kind:       core.ProviderErrRateLimited,
			RetryAfter: retryAfter(resp),
			Err:        fmt.Errorf("%s returned status 429", provider),
		}
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return core.NewProviderError(provider, core.ProviderErrInvalidIndicator, fmt.Errorf("%s rejected indicator: status %d", provider, resp.StatusCode))
	default:
		return core.NewProviderError(provider, core.ProviderErrUnavailable, fmt.Errorf("%s returned status %d", provider, resp.StatusCode))
	}
}

func contextKind(err error) core.ProviderErrorKind {
	if errors.Is(err, context.DeadlineExceeded) {
		return core.ProviderErrTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return core.ProviderErrTimeout
	}
	return ""
}

func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

// cleanResult is the verdict for an indicator the provider has never seen
func cleanResult(provider string, indicatorType core.IndicatorType, value string) *core.ProviderResult {
	return &core.ProviderResult{
		Provider:   provider,
		Type:       indicatorType,
		Indicator:  value,
		Score:      0,
		Confidence: 0,
		Tags:       []string{},
		FetchedAt:  time.Now().UTC(),
	}
}

// ============================================================================
// VirusTotal
// ============================================================================

// VirusTotalProvider queries the VirusTotal v3 API
type VirusTotalProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewVirusTotalProvider creates a new VirusTotal provider
func NewVirusTotalProvider(apiKey string) *VirusTotalProvider {
	return &VirusTotalProvider{
		apiKey:  apiKey,
		baseURL: "https://www.virustotal.com/api/v3",
		client:  newProviderClient(),
	}
}

// Name returns the provider name
func (p *VirusTotalProvider) Name() string {
	return "virustotal"
}

// Supports reports which indicator types VirusTotal can look up
func (p *VirusTotalProvider) Supports(indicatorType core.IndicatorType) bool {
	switch indicatorType {
	case core.IndicatorTypeIP, core.IndicatorTypeDomain, core.IndicatorTypeHash, core.IndicatorTypeURL:
		return true
	}
	return false
}

// Lookup checks an indicator against VirusTotal
func (p *VirusTotalProvider) Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error) {
	var endpoint string
	switch indicatorType {
	case core.IndicatorTypeIP:
		endpoint = fmt.Sprintf("%s/ip_addresses/%s", p.baseURL, value)
	case core.IndicatorTypeDomain:
		endpoint = fmt.Sprintf("%s/domains/%s", p.baseURL, value)
	case core.IndicatorTypeHash:
		endpoint = fmt.Sprintf("%s/files/%s", p.baseURL, value)
	case core.IndicatorTypeURL:
		// VT addresses URLs by the unpadded base64 of the URL itself
		id := base64.RawURLEncoding.EncodeToString([]byte(value))
		endpoint = fmt.Sprintf("%s/urls/%s", p.baseURL, id)
	default:
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, fmt.Errorf("unsupported indicator type: %s", indicatorType))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, err)
	}
	req.Header.Set("x-apikey", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(p.Name(), nil, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return cleanResult(p.Name(), indicatorType, value), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(p.Name(), resp, nil)
	}

	var vtResponse struct {
		Data struct {
			Attributes struct {
				LastAnalysisStats struct {
					Malicious  int `json:"malicious"`
					Suspicious int `json:"suspicious"`
					Harmless   int `json:"harmless"`
					Undetected int `json:"undetected"`
				} `json:"last_analysis_stats"`
				Categories map[string]string `json:"categories"`
				Tags       []string          `json:"tags"`
				Reputation int               `json:"reputation"`
			} `json:"attributes"`
		} `json:"data"`
	}
	raw, err := decodeBody(resp.Body, &vtResponse)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrUnavailable, fmt.Errorf("failed to decode response: %w", err))
	}

	attrs := vtResponse.Data.Attributes
	stats := attrs.LastAnalysisStats

	totalEngines := stats.Malicious + stats.Suspicious + stats.Harmless + stats.Undetected
	var score, confidence float64
	if totalEngines > 0 {
		score = 100 * float64(stats.Malicious) / float64(totalEngines)
		// Confidence grows with engine coverage, capped at 0.95
		confidence = float64(totalEngines) / 70.0
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	tags := make([]string, 0, len(attrs.Categories)+len(attrs.Tags))
	for _, cat := range attrs.Categories {
		tags = append(tags, cat)
	}
	tags = append(tags, attrs.Tags...)

	return &core.ProviderResult{
		Provider:   p.Name(),
		Type:       indicatorType,
		Indicator:  value,
		Score:      score,
		Confidence: confidence,
		Tags:       tags,
		Raw:        raw,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// ============================================================================
// AbuseIPDB
// ============================================================================

// AbuseIPDBProvider queries the AbuseIPDB v2 API. IP addresses only.
type AbuseIPDBProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAbuseIPDBProvider creates a new AbuseIPDB provider
func NewAbuseIPDBProvider(apiKey string) *AbuseIPDBProvider {
	return &AbuseIPDBProvider{
		apiKey:  apiKey,
		baseURL: "https://api.abuseipdb.com/api/v2",
		client:  newProviderClient(),
	}
}

// Name returns the provider name
func (p *AbuseIPDBProvider) Name() string {
	return "abuseipdb"
}

// Supports reports which indicator types AbuseIPDB can look up
func (p *AbuseIPDBProvider) Supports(indicatorType core.IndicatorType) bool {
	return indicatorType == core.IndicatorTypeIP
}

// Lookup checks an IP address against AbuseIPDB
func (p *AbuseIPDBProvider) Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error) {
	if indicatorType != core.IndicatorTypeIP {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, fmt.Errorf("unsupported indicator type: %s", indicatorType))
	}

	endpoint := fmt.Sprintf("%s/check?ipAddress=%s&maxAgeInDays=90&verbose", p.baseURL, url.QueryEscape(value))

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, err)
	}
	req.Header.Set("Key", p.apiKey)
	req.Header.Set("Accept", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(p.Name(), nil, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return cleanResult(p.Name(), indicatorType, value), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(p.Name(), resp, nil)
	}

	var abuseResponse struct {
		Data struct {
			AbuseConfidenceScore int    `json:"abuseConfidenceScore"`
			UsageType            string `json:"usageType"`
			IsWhitelisted        bool   `json:"isWhitelisted"`
			TotalReports         int    `json:"totalReports"`
			Reports              []struct {
				Categories []int `json:"categories"`
			} `json:"reports"`
		} `json:"data"`
	}
	raw, err := decodeBody(resp.Body, &abuseResponse)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrUnavailable, fmt.Errorf("failed to decode response: %w", err))
	}

	data := abuseResponse.Data

	categoryMap := map[int]string{
		3:  "Fraud",
		4:  "DDoS Attack",
		9:  "Hacking",
		10: "Spam",
		14: "Port Scan",
		18: "Brute Force",
		19: "Bad Web Bot",
		20: "Exploited Host",
		21: "Web App Attack",
		22: "SSH",
		23: "IoT Targeted",
	}
	categorySet := make(map[string]bool)
	for _, report := range data.Reports {
		for _, catID := range report.Categories {
			if catName, exists := categoryMap[catID]; exists {
				categorySet[catName] = true
			}
		}
	}
	var tags []string
	for cat := range categorySet {
		tags = append(tags, cat)
	}
	if data.UsageType != "" {
		tags = append(tags, data.UsageType)
	}

	score := float64(data.AbuseConfidenceScore)
	if data.IsWhitelisted {
		score = 0
	}
	// Report volume drives confidence, capped at 0.9
	confidence := 0.3 + float64(data.TotalReports)/50.0
	if confidence > 0.9 {
		confidence = 0.9
	}

	return &core.ProviderResult{
		Provider:   p.Name(),
		Type:       indicatorType,
		Indicator:  value,
		Score:      score,
		Confidence: confidence,
		Tags:       tags,
		Raw:        raw,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// ============================================================================
// AlienVault OTX
// ============================================================================

// AlienVaultOTXProvider queries the AlienVault OTX API
type AlienVaultOTXProvider struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

// NewAlienVaultOTXProvider creates a new AlienVault OTX provider
func NewAlienVaultOTXProvider(apiKey string) *AlienVaultOTXProvider {
	return &AlienVaultOTXProvider{
		apiKey:  apiKey,
		baseURL: "https://otx.alienvault.com/api/v1",
		client:  newProviderClient(),
	}
}

// Name returns the provider name
func (p *AlienVaultOTXProvider) Name() string {
	return "otx"
}

// Supports reports which indicator types OTX can look up
func (p *AlienVaultOTXProvider) Supports(indicatorType core.IndicatorType) bool {
	switch indicatorType {
	case core.IndicatorTypeIP, core.IndicatorTypeDomain, core.IndicatorTypeHash, core.IndicatorTypeURL:
		return true
	}
	return false
}

// Lookup checks an indicator against AlienVault OTX
func (p *AlienVaultOTXProvider) Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error) {
	var endpoint string
	switch indicatorType {
	case core.IndicatorTypeIP:
		endpoint = fmt.Sprintf("%s/indicators/IPv4/%s/general", p.baseURL, value)
	case core.IndicatorTypeDomain:
		endpoint = fmt.Sprintf("%s/indicators/domain/%s/general", p.baseURL, value)
	case core.IndicatorTypeHash:
		endpoint = fmt.Sprintf("%s/indicators/file/%s/general", p.baseURL, value)
	case core.IndicatorTypeURL:
		endpoint = fmt.Sprintf("%s/indicators/url/%s/general", p.baseURL, url.PathEscape(value))
	default:
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, fmt.Errorf("unsupported indicator type: %s", indicatorType))
	}

	req, err := http.NewRequestWithContext(ctx, "GET", endpoint, nil)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrInvalidIndicator, err)
	}
	req.Header.Set("X-OTX-API-KEY", p.apiKey)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, classifyHTTPError(p.Name(), nil, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return cleanResult(p.Name(), indicatorType, value), nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(p.Name(), resp, nil)
	}

	var otxResponse struct {
		PulseInfo struct {
			Count  int `json:"count"`
			Pulses []struct {
				Tags []string `json:"tags"`
			} `json:"pulses"`
		} `json:"pulse_info"`
		Reputation int `json:"reputation"`
	}
	raw, err := decodeBody(resp.Body, &otxResponse)
	if err != nil {
		return nil, core.NewProviderError(p.Name(), core.ProviderErrUnavailable, fmt.Errorf("failed to decode response: %w", err))
	}

	pulseCount := otxResponse.PulseInfo.Count

	tagSet := make(map[string]bool)
	for _, pulse := range otxResponse.PulseInfo.Pulses {
		for _, tag := range pulse.Tags {
			tagSet[tag] = true
		}
	}
	var tags []string
	for tag := range tagSet {
		tags = append(tags, tag)
	}

	// Each pulse is an independent community sighting
	score := float64(pulseCount) * 10
	if score > 100 {
		score = 100
	}
	if otxResponse.Reputation < 0 && score < 50 {
		score = 50
	}
	var confidence float64
	if pulseCount > 0 {
		confidence = float64(pulseCount) / 10.0
		if confidence > 0.95 {
			confidence = 0.95
		}
	}

	return &core.ProviderResult{
		Provider:   p.Name(),
		Type:       indicatorType,
		Indicator:  value,
		Score:      score,
		Confidence: confidence,
		Tags:       tags,
		Raw:        raw,
		FetchedAt:  time.Now().UTC(),
	}, nil
}

// decodeBody reads a size-capped response body, unmarshals it into v, and
// returns the raw bytes for audit storage
func decodeBody(body io.Reader, v any) (json.RawMessage, error) {
	raw, err := io.ReadAll(io.LimitReader(body, maxProviderResponseBytes))
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, err
	}
	return raw, nil
}
