package admission

import "strings"

// suspiciousAgentTokens flags scripted clients by user-agent substring.
var suspiciousAgentTokens = []string{"bot", "crawler", "spider", "scraper"}

// BotPredicate is a pluggable bot-likeness signal. The default substring
// check is a weak placeholder heuristic; deployments that care swap it out.
type BotPredicate func(userAgent, referer string) bool

// DefaultBotPredicate flags user agents that identify a scripting runtime.
func DefaultBotPredicate(userAgent, referer string) bool {
	return strings.Contains(strings.ToLower(userAgent), "python")
}

// Detector judges whether a client looks abusive. It is read-only with
// respect to block state: the caller decides whether to escalate a positive
// judgment into a block.
type Detector struct {
	volume             *BucketLimiter
	registry           *BlockRegistry
	suspicionThreshold int
	botLikely          BotPredicate
}

// NewDetector wires the detector to the shared limiter (for the aggregate
// volume bucket) and block registry (for violation counts). A nil predicate
// installs DefaultBotPredicate.
func NewDetector(volume *BucketLimiter, registry *BlockRegistry, suspicionThreshold int, botLikely BotPredicate) *Detector {
	if botLikely == nil {
		botLikely = DefaultBotPredicate
	}
	return &Detector{
		volume:             volume,
		registry:           registry,
		suspicionThreshold: suspicionThreshold,
		botLikely:          botLikely,
	}
}

// Evaluate reports whether the client should be treated as suspicious. Any
// one of the four signals is sufficient: aggregate request volume past the
// DDoS threshold, an absent or denylisted user agent, accumulated rate-limit
// violations, or the bot-likeness predicate.
func (d *Detector) Evaluate(clientKey, userAgent, referer string) bool {
	if !d.volume.TryConsume(clientKey, classVolume) {
		return true
	}

	if userAgent == "" || suspiciousUserAgent(userAgent) {
		return true
	}

	if d.registry.Violations(clientKey) > d.suspicionThreshold {
		return true
	}

	return d.botLikely(userAgent, referer)
}

func suspiciousUserAgent(userAgent string) bool {
	ua := strings.ToLower(userAgent)
	for _, token := range suspiciousAgentTokens {
		if strings.Contains(ua, token) {
			return true
		}
	}
	if len(ua) < 10 {
		return true
	}
	return ua == "curl" || ua == "wget"
}
