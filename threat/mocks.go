package threat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"time"

	"threatlens/core"
)

// MockProvider is a programmable in-process provider for tests. Each Lookup
// pops the next scripted response; when the script runs out the last entry
// repeats.
type MockProvider struct {
	name  string
	types map[core.IndicatorType]bool

	mu       sync.Mutex
	script   []MockResponse
	cursor   int
	calls    atomic.Int64
	delay    time.Duration
	blockCh  chan struct{}
	lastType core.IndicatorType
	lastVal  string
}

// MockResponse is one scripted Lookup outcome
type MockResponse struct {
	Result *core.ProviderResult
	Err    error
}

// NewMockProvider creates a mock supporting the given indicator types; no
// types means all of them
func NewMockProvider(name string, types ...core.IndicatorType) *MockProvider {
	supported := make(map[core.IndicatorType]bool)
	if len(types) == 0 {
		for _, t := range []core.IndicatorType{core.IndicatorTypeIP, core.IndicatorTypeDomain, core.IndicatorTypeURL, core.IndicatorTypeHash} {
			supported[t] = true
		}
	}
	for _, t := range types {
		supported[t] = true
	}
	return &MockProvider{name: name, types: supported}
}

// Name returns the provider name
func (m *MockProvider) Name() string {
	return m.name
}

// Supports reports the configured indicator types
func (m *MockProvider) Supports(indicatorType core.IndicatorType) bool {
	return m.types[indicatorType]
}

// Lookup returns the next scripted response
func (m *MockProvider) Lookup(ctx context.Context, indicatorType core.IndicatorType, value string) (*core.ProviderResult, error) {
	m.calls.Add(1)

	m.mu.Lock()
	m.lastType = indicatorType
	m.lastVal = value
	delay := m.delay
	blockCh := m.blockCh
	var next MockResponse
	if len(m.script) > 0 {
		next = m.script[m.cursor]
		if m.cursor < len(m.script)-1 {
			m.cursor++
		}
	} else {
		next = MockResponse{Result: &core.ProviderResult{
			Provider:   m.name,
			Type:       indicatorType,
			Indicator:  value,
			Score:      0,
			Confidence: 0.5,
			FetchedAt:  time.Now().UTC(),
		}}
	}
	m.mu.Unlock()

	if blockCh != nil {
		select {
		case <-blockCh:
		case <-ctx.Done():
			return nil, core.NewProviderError(m.name, core.ProviderErrTimeout, ctx.Err())
		}
	}
	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, core.NewProviderError(m.name, core.ProviderErrTimeout, ctx.Err())
		}
	}

	if next.Err != nil {
		return nil, next.Err
	}
	result := *next.Result
	if result.Provider == "" {
		result.Provider = m.name
	}
	if result.Indicator == "" {
		result.Indicator = value
		result.Type = indicatorType
	}
	return &result, nil
}

// Respond appends scripted responses
func (m *MockProvider) Respond(responses ...MockResponse) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.script = append(m.script, responses...)
	return m
}

// RespondScore scripts a single successful response with the given score
// and confidence
func (m *MockProvider) RespondScore(score, confidence float64, tags ...string) *MockProvider {
	return m.Respond(MockResponse{Result: &core.ProviderResult{
		Provider:   m.name,
		Score:      score,
		Confidence: confidence,
		Tags:       tags,
		FetchedAt:  time.Now().UTC(),
	}})
}

// RespondError scripts a single failing response
func (m *MockProvider) RespondError(kind core.ProviderErrorKind) *MockProvider {
	return m.Respond(MockResponse{Err: core.NewProviderError(m.name, kind, nil)})
}

// SetDelay makes each Lookup wait before answering
func (m *MockProvider) SetDelay(d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
}

// Block makes Lookup hang until the returned release function is called
func (m *MockProvider) Block() (release func()) {
	ch := make(chan struct{})
	m.mu.Lock()
	m.blockCh = ch
	m.mu.Unlock()
	var once sync.Once
	return func() { once.Do(func() { close(ch) }) }
}

// Calls returns how many times Lookup was invoked
func (m *MockProvider) Calls() int64 {
	return m.calls.Load()
}

// LastLookup returns the most recent indicator Lookup received
func (m *MockProvider) LastLookup() (core.IndicatorType, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastType, m.lastVal
}

// MockIntelServer is an httptest server speaking the VirusTotal v3 wire
// format, for exercising the real HTTP adapters.
type MockIntelServer struct {
	server *httptest.Server

	mu         sync.Mutex
	malicious  int
	total      int
	status     int
	retryAfter string
	requests   int
}

// NewMockIntelServer starts a server that reports the given detection ratio
func NewMockIntelServer(malicious, total int) *MockIntelServer {
	m := &MockIntelServer{malicious: malicious, total: total, status: http.StatusOK}
	m.server = httptest.NewServer(http.HandlerFunc(m.handle))
	return m
}

func (m *MockIntelServer) handle(w http.ResponseWriter, r *http.Request) {
	m.mu.Lock()
	m.requests++
	status := m.status
	malicious, total := m.malicious, m.total
	retryAfter := m.retryAfter
	m.mu.Unlock()

	if status != http.StatusOK {
		if retryAfter != "" {
			w.Header().Set("Retry-After", retryAfter)
		}
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	response := map[string]interface{}{
		"data": map[string]interface{}{
			"attributes": map[string]interface{}{
				"last_analysis_stats": map[string]int{
					"malicious":  malicious,
					"harmless":   total - malicious,
					"suspicious": 0,
					"undetected": 0,
				},
				"tags": []string{"mock"},
			},
		},
	}
	_ = json.NewEncoder(w).Encode(response)
}

// SetStatus makes the server answer every request with the given status
func (m *MockIntelServer) SetStatus(status int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.status = status
}

// SetRetryAfter sets the Retry-After header sent with error statuses
func (m *MockIntelServer) SetRetryAfter(seconds string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.retryAfter = seconds
}

// Requests returns how many requests the server has seen
func (m *MockIntelServer) Requests() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.requests
}

// URL returns the server base URL
func (m *MockIntelServer) URL() string {
	return m.server.URL
}

// Close stops the server
func (m *MockIntelServer) Close() {
	m.server.Close()
}
