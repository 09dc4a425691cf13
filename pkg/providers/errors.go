package providers

import "errors"

// Sentinel errors a Backend wraps its transport errors in, so the fallback
// chain can classify a failure without knowing which SDK raised it. Grounded
// on the FailoverReason switch in the teacher's pkg/agent/errors.go.
var (
	ErrAuth       = errors.New("provider: authentication failed")
	ErrRateLimit  = errors.New("provider: rate limited")
	ErrBilling    = errors.New("provider: billing/quota exceeded")
	ErrTimeout    = errors.New("provider: request timed out")
	ErrOverloaded = errors.New("provider: overloaded")
	ErrFormat     = errors.New("provider: malformed response")
)

// FailoverReason classifies why a call failed, for fallback-chain routing
// and user-facing messaging.
type FailoverReason string

const (
	FailoverAuth       FailoverReason = "auth"
	FailoverRateLimit  FailoverReason = "rate_limit"
	FailoverBilling    FailoverReason = "billing"
	FailoverTimeout    FailoverReason = "timeout"
	FailoverOverloaded FailoverReason = "overloaded"
	FailoverFormat     FailoverReason = "format"
	FailoverUnknown    FailoverReason = "unknown"
)

// ClassifyFailure maps a Backend error to a FailoverReason by walking the
// sentinel chain via errors.Is.
func ClassifyFailure(err error) FailoverReason {
	switch {
	case errors.Is(err, ErrAuth):
		return FailoverAuth
	case errors.Is(err, ErrRateLimit):
		return FailoverRateLimit
	case errors.Is(err, ErrBilling):
		return FailoverBilling
	case errors.Is(err, ErrTimeout):
		return FailoverTimeout
	case errors.Is(err, ErrOverloaded):
		return FailoverOverloaded
	case errors.Is(err, ErrFormat):
		return FailoverFormat
	default:
		return FailoverUnknown
	}
}

// Retryable reports whether the fallback chain should retry against the
// SAME backend (rate limit / overloaded / timeout) before moving on to the
// next configured provider, versus failing over immediately (auth / billing
// / format, which a retry cannot fix).
func (r FailoverReason) Retryable() bool {
	switch r {
	case FailoverRateLimit, FailoverOverloaded, FailoverTimeout:
		return true
	default:
		return false
	}
}

// UserFriendlyError renders a FailoverReason as the text surfaced to the
// end user when every configured provider in the chain has been exhausted.
func UserFriendlyError(reason FailoverReason, lastErr error) string {
	switch reason {
	case FailoverAuth:
		return "Authentication failed. Check your API key."
	case FailoverRateLimit:
		return "Rate limited by the provider. Try again shortly."
	case FailoverBilling:
		return "Billing or quota limit reached for this provider."
	case FailoverTimeout:
		return "The request timed out."
	case FailoverOverloaded:
		return "The provider is currently overloaded."
	case FailoverFormat:
		return "The provider returned a response Kin Code could not parse."
	default:
		if lastErr != nil {
			return lastErr.Error()
		}
		return "An unknown provider error occurred."
	}
}
