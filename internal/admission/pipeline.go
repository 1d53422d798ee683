package admission

import (
	"net"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// RequestInfo describes one inbound request to the admission pipeline.
type RequestInfo struct {
	Method     string
	Path       string
	ClientKey  string
	UserAgent  string
	Referer    string
	Credential string
}

// Rejection reasons carried back to the HTTP layer.
const (
	ReasonUnauthorized = "unauthorized"
	ReasonBlocked      = "blocked"
	ReasonSuspicious   = "suspicious"
	ReasonRateLimited  = "rate_limited"
)

// Decision is the outcome of one admission check.
type Decision struct {
	Allowed         bool
	StatusCode      int
	Reason          string
	RetryAfter      time.Duration
	RemainingTokens int
	Class           EndpointClass
}

// Pipeline runs the fixed-order admission chain: credential gate, block
// check, suspicion check, endpoint classification, token bucket. The first
// rejecting stage wins. Admission rejections are expected outcomes and are
// logged as access signals, never as errors.
type Pipeline struct {
	gate     *CredentialGate
	limiter  *BucketLimiter
	detector *Detector
	registry *BlockRegistry
	log      *zap.Logger
}

func NewPipeline(gate *CredentialGate, limiter *BucketLimiter, detector *Detector, registry *BlockRegistry, log *zap.Logger) *Pipeline {
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		gate:     gate,
		limiter:  limiter,
		detector: detector,
		registry: registry,
		log:      log,
	}
}

// Admit evaluates the chain for one request.
func (p *Pipeline) Admit(req RequestInfo) Decision {
	if !p.gate.Allows(req.Method, req.Path, req.Credential) {
		admissionsTotal.WithLabelValues(ReasonUnauthorized).Inc()
		return Decision{StatusCode: http.StatusUnauthorized, Reason: ReasonUnauthorized}
	}

	if p.registry.IsBlocked(req.ClientKey) {
		admissionsTotal.WithLabelValues(ReasonBlocked).Inc()
		return Decision{
			StatusCode: http.StatusTooManyRequests,
			Reason:     ReasonBlocked,
			RetryAfter: p.registry.RetryAfter(req.ClientKey),
		}
	}

	if p.detector.Evaluate(req.ClientKey, req.UserAgent, req.Referer) {
		p.registry.Block(req.ClientKey)
		blocksTotal.Inc()
		admissionsTotal.WithLabelValues(ReasonSuspicious).Inc()
		p.log.Warn("client blocked for suspicious activity",
			zap.String("client", req.ClientKey),
			zap.String("user_agent", req.UserAgent),
			zap.String("path", req.Path),
		)
		return Decision{
			StatusCode: http.StatusTooManyRequests,
			Reason:     ReasonSuspicious,
			RetryAfter: p.registry.BlockDuration(),
		}
	}

	class := ClassifyEndpoint(req.Path, req.Method)

	if !p.limiter.TryConsume(req.ClientKey, class) {
		violations := p.registry.NoteViolation(req.ClientKey)
		admissionsTotal.WithLabelValues(ReasonRateLimited).Inc()
		p.log.Info("rate limit exceeded",
			zap.String("client", req.ClientKey),
			zap.String("class", string(class)),
			zap.Int("violations", violations),
		)
		return Decision{
			StatusCode: http.StatusTooManyRequests,
			Reason:     ReasonRateLimited,
			Class:      class,
		}
	}

	admissionsTotal.WithLabelValues("allowed").Inc()
	return Decision{
		Allowed:         true,
		StatusCode:      http.StatusOK,
		Class:           class,
		RemainingTokens: p.limiter.Available(req.ClientKey, class),
	}
}

// Available exposes the remaining token count for observability headers.
func (p *Pipeline) Available(clientKey string, class EndpointClass) int {
	return p.limiter.Available(clientKey, class)
}

// ClassifyEndpoint maps a (path, method) pair onto exactly one endpoint
// class. Mutating methods on place paths always classify as PLACE_WRITE;
// anything unrecognized falls back to the most permissive class.
func ClassifyEndpoint(path, method string) EndpointClass {
	switch {
	case strings.HasPrefix(path, "/admin/"):
		return ClassAdmin
	case strings.HasPrefix(path, "/weather/"):
		return ClassWeather
	case strings.HasPrefix(path, "/places"):
		if mutatingMethods[method] {
			return ClassPlaceWrite
		}
		return ClassPlaceRead
	default:
		return ClassOther
	}
}

// ClientKey derives the admission identity of a caller: the first entry of
// X-Forwarded-For when present, then X-Real-IP, then the transport peer
// address with any port stripped.
func ClientKey(forwardedFor, realIP, remoteAddr string) string {
	if forwardedFor != "" {
		return strings.TrimSpace(strings.Split(forwardedFor, ",")[0])
	}
	if realIP != "" {
		return realIP
	}
	if host, _, err := net.SplitHostPort(remoteAddr); err == nil {
		return host
	}
	return remoteAddr
}
