package admission

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

const browserUA = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

func newTestDetector(volumePerMinute int, now func() time.Time) (*Detector, *BlockRegistry) {
	limits := WithVolumeLimit(map[EndpointClass]ClassLimit{
		ClassOther: {Capacity: 60, Interval: time.Minute},
	}, volumePerMinute)
	limiter := NewBucketLimiter(limits, 10000, now)
	registry := NewBlockRegistry(15*time.Minute, now)
	return NewDetector(limiter, registry, 10, nil), registry
}

func TestEvaluate_UserAgentHeuristics(t *testing.T) {
	tests := []struct {
		name       string
		userAgent  string
		suspicious bool
	}{
		{"regular browser", browserUA, false},
		{"empty user agent", "", true},
		{"crawler token", "Googlebot-like crawler agent v2", true},
		{"spider token", "my-spider/1.0 (+http://example.com)", true},
		{"scraper token", "DataScraper Pro 3.1 edition", true},
		{"short string", "curl/7.68", true},
		{"python runtime", "python-requests/2.31.0 linux x86_64", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			now, _ := testClock()
			detector, _ := newTestDetector(100, now)

			assert.Equal(t, tt.suspicious, detector.Evaluate("1.2.3.4", tt.userAgent, ""))
		})
	}
}

func TestEvaluate_VolumePastDDoSThreshold(t *testing.T) {
	now, _ := testClock()
	detector, _ := newTestDetector(3, now)

	for i := 0; i < 3; i++ {
		assert.False(t, detector.Evaluate("1.2.3.4", browserUA, ""), "request %d under threshold", i+1)
	}
	assert.True(t, detector.Evaluate("1.2.3.4", browserUA, ""))
}

func TestEvaluate_AccumulatedViolations(t *testing.T) {
	now, _ := testClock()
	detector, registry := newTestDetector(100, now)

	for i := 0; i < 10; i++ {
		registry.NoteViolation("1.2.3.4")
	}
	assert.False(t, detector.Evaluate("1.2.3.4", browserUA, ""), "at the threshold")

	registry.NoteViolation("1.2.3.4")
	assert.True(t, detector.Evaluate("1.2.3.4", browserUA, ""), "past the threshold")
}

func TestEvaluate_BotPredicateIsPluggable(t *testing.T) {
	now, _ := testClock()
	limits := WithVolumeLimit(map[EndpointClass]ClassLimit{
		ClassOther: {Capacity: 60, Interval: time.Minute},
	}, 100)
	limiter := NewBucketLimiter(limits, 10000, now)
	registry := NewBlockRegistry(15*time.Minute, now)

	flagReferer := func(userAgent, referer string) bool {
		return referer == "http://evil.example"
	}
	detector := NewDetector(limiter, registry, 10, flagReferer)

	assert.False(t, detector.Evaluate("1.2.3.4", browserUA, "http://fine.example"))
	assert.True(t, detector.Evaluate("1.2.3.4", browserUA, "http://evil.example"))
}

func TestDefaultBotPredicate(t *testing.T) {
	assert.True(t, DefaultBotPredicate("Python-urllib/3.9", ""))
	assert.False(t, DefaultBotPredicate(browserUA, ""))
}
