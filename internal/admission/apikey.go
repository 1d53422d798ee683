package admission

import "strings"

// mutatingMethods are the methods the credential gate treats as writes.
var mutatingMethods = map[string]bool{
	"POST":   true,
	"PUT":    true,
	"PATCH":  true,
	"DELETE": true,
}

// CredentialGate is the stateless pre-shared-key check that runs before the
// rest of the admission chain. Reads pass freely; writes outside the
// allowlisted auth and favorites paths must present the exact configured key.
type CredentialGate struct {
	expected string
}

func NewCredentialGate(expected string) *CredentialGate {
	return &CredentialGate{expected: expected}
}

// Allows reports whether the request may proceed past the gate. The
// comparison is exact and case-sensitive.
func (g *CredentialGate) Allows(method, path, provided string) bool {
	if !mutatingMethods[method] {
		return true
	}
	if strings.HasPrefix(path, "/favorites") || strings.HasPrefix(path, "/api/auth") {
		return true
	}
	return provided != "" && provided == g.expected
}
