package middleware

import (
	"net/http"
	"time"

	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	"github.com/go-chi/httprate"
)

// MailThrottleConfig bounds how many mail-sending requests the process
// accepts per window across all callers.
type MailThrottleConfig struct {
	RequestsPerWindow int
	Window            time.Duration
}

// DefaultMailThrottle returns the default throttle for mail-sending endpoints
func DefaultMailThrottle() MailThrottleConfig {
	return MailThrottleConfig{
		RequestsPerWindow: 60,
		Window:            time.Minute,
	}
}

// ThrottleMailEndpoints caps the global rate of requests that can trigger an
// outbound email. No key function is given, so every client draws on the
// same budget; it protects the mail provider quota rather than any one account.
func ThrottleMailEndpoints(config MailThrottleConfig) func(next http.Handler) http.Handler {
	return httprate.Limit(
		config.RequestsPerWindow,
		config.Window,
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			pkghttp.WriteTooManyRequests(w, "Too many requests. Please try again later.")
		}),
	)
}
