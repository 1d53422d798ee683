package admission

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type pipelineFixture struct {
	pipeline *Pipeline
	limiter  *BucketLimiter
	registry *BlockRegistry
	advance  func(time.Duration)
}

func newPipelineFixture() *pipelineFixture {
	now, advance := testClock()
	limiter := NewBucketLimiter(testLimits(), 10000, now)
	registry := NewBlockRegistry(15*time.Minute, now)
	detector := NewDetector(limiter, registry, 10, nil)
	gate := NewCredentialGate("s3cret")
	return &pipelineFixture{
		pipeline: NewPipeline(gate, limiter, detector, registry, nil),
		limiter:  limiter,
		registry: registry,
		advance:  advance,
	}
}

func weatherGet(client string) RequestInfo {
	return RequestInfo{
		Method:    "GET",
		Path:      "/weather/berlin/current",
		ClientKey: client,
		UserAgent: browserUA,
	}
}

func TestAdmit_CredentialGateRejectsBeforeAnyCounter(t *testing.T) {
	f := newPipelineFixture()

	decision := f.pipeline.Admit(RequestInfo{
		Method:    "POST",
		Path:      "/admin/update",
		ClientKey: "1.2.3.4",
		UserAgent: "curl/7.68",
	})

	assert.False(t, decision.Allowed)
	assert.Equal(t, http.StatusUnauthorized, decision.StatusCode)
	assert.Equal(t, ReasonUnauthorized, decision.Reason)

	// no token consumed, no suspicion recorded, no block created
	assert.Equal(t, 10, f.limiter.Available("1.2.3.4", ClassAdmin))
	assert.Equal(t, 0, f.registry.Violations("1.2.3.4"))
	assert.False(t, f.registry.IsBlocked("1.2.3.4"))
}

func TestAdmit_RateLimit_31stWeatherRequestRejected(t *testing.T) {
	f := newPipelineFixture()

	for i := 0; i < 30; i++ {
		decision := f.pipeline.Admit(weatherGet("1.2.3.4"))
		require.True(t, decision.Allowed, "request %d should be admitted", i+1)
	}

	decision := f.pipeline.Admit(weatherGet("1.2.3.4"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, http.StatusTooManyRequests, decision.StatusCode)
	assert.Equal(t, ReasonRateLimited, decision.Reason)
	assert.Equal(t, 0, f.limiter.Available("1.2.3.4", ClassWeather))
	assert.Equal(t, 1, f.registry.Violations("1.2.3.4"))
}

func TestAdmit_SuspiciousClientIsBlocked(t *testing.T) {
	f := newPipelineFixture()

	req := weatherGet("1.2.3.4")
	req.UserAgent = ""

	decision := f.pipeline.Admit(req)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonSuspicious, decision.Reason)
	assert.Equal(t, 15*time.Minute, decision.RetryAfter)
	assert.True(t, f.registry.IsBlocked("1.2.3.4"))

	// follow-up request hits the block check first, even with a clean UA
	f.advance(5 * time.Minute)
	decision = f.pipeline.Admit(weatherGet("1.2.3.4"))
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonBlocked, decision.Reason)
	assert.Equal(t, 10*time.Minute, decision.RetryAfter)
}

func TestAdmit_BlockExpiry_AdmitsAndResetsSuspicion(t *testing.T) {
	f := newPipelineFixture()

	req := weatherGet("1.2.3.4")
	req.UserAgent = ""
	f.pipeline.Admit(req)
	require.True(t, f.registry.IsBlocked("1.2.3.4"))

	f.advance(16 * time.Minute)

	decision := f.pipeline.Admit(weatherGet("1.2.3.4"))
	assert.True(t, decision.Allowed)
	assert.Equal(t, 0, f.registry.Violations("1.2.3.4"))
}

func TestAdmit_Allowed_ReportsClassAndRemaining(t *testing.T) {
	f := newPipelineFixture()

	decision := f.pipeline.Admit(weatherGet("1.2.3.4"))
	assert.True(t, decision.Allowed)
	assert.Equal(t, http.StatusOK, decision.StatusCode)
	assert.Equal(t, ClassWeather, decision.Class)
	assert.Equal(t, 29, decision.RemainingTokens)
}

func TestClassifyEndpoint_EveryPairMapsToExactlyOneClass(t *testing.T) {
	tests := []struct {
		path   string
		method string
		class  EndpointClass
	}{
		{"/admin/alerts", "GET", ClassAdmin},
		{"/admin/update", "POST", ClassAdmin},
		{"/weather/berlin/current", "GET", ClassWeather},
		{"/weather/berlin/forecast", "POST", ClassWeather},
		{"/places", "POST", ClassPlaceWrite},
		{"/places/berlin", "PUT", ClassPlaceWrite},
		{"/places/berlin", "PATCH", ClassPlaceWrite},
		{"/places/berlin", "DELETE", ClassPlaceWrite},
		{"/places", "GET", ClassPlaceRead},
		{"/places/berlin", "HEAD", ClassPlaceRead},
		{"/", "GET", ClassOther},
		{"/favorites", "GET", ClassOther},
		{"/api/auth/login", "POST", ClassOther},
		{"/metrics", "GET", ClassOther},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.class, ClassifyEndpoint(tt.path, tt.method),
			"%s %s", tt.method, tt.path)
	}
}

func TestClientKey_HeaderPrecedence(t *testing.T) {
	tests := []struct {
		name         string
		forwardedFor string
		realIP       string
		remoteAddr   string
		want         string
	}{
		{"forwarded-for wins", "9.9.9.9, 10.0.0.1", "8.8.8.8", "127.0.0.1:5123", "9.9.9.9"},
		{"forwarded-for is trimmed", " 9.9.9.9 ", "", "127.0.0.1:5123", "9.9.9.9"},
		{"real-ip second", "", "8.8.8.8", "127.0.0.1:5123", "8.8.8.8"},
		{"remote addr last, port stripped", "", "", "192.168.1.50:40112", "192.168.1.50"},
		{"remote addr without port", "", "", "192.168.1.50", "192.168.1.50"},
		{"ipv6 remote addr unbracketed", "", "", "[::1]:8080", "::1"},
		{"ipv6 remote addr without port", "", "", "::1", "::1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClientKey(tt.forwardedFor, tt.realIP, tt.remoteAddr))
		})
	}
}
