package observability

import (
	"net/http"
	"strings"
	"time"

	"github.com/getsentry/sentry-go"
	sentryhttp "github.com/getsentry/sentry-go/http"
)

// InitSentry configures the global Sentry client. An empty DSN disables
// reporting and is not an error.
func InitSentry(dsn, environment string) error {
	if dsn == "" {
		return nil
	}

	return sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		Environment:      environment,
		AttachStacktrace: true,
		BeforeSend:       scrubEvent,
	})
}

// FlushSentry waits briefly for buffered events to be delivered
func FlushSentry() {
	sentry.Flush(2 * time.Second)
}

// Middleware reports handler panics to Sentry and re-panics so the router's
// recoverer can write the response.
func Middleware() func(http.Handler) http.Handler {
	handler := sentryhttp.New(sentryhttp.Options{Repanic: true})
	return handler.Handle
}

// scrubEvent drops credentials from the request attached to an event
func scrubEvent(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	if event.Request == nil {
		return event
	}
	event.Request.Cookies = ""
	event.Request.Data = ""
	event.Request.QueryString = ""
	for name := range event.Request.Headers {
		switch strings.ToLower(name) {
		case "authorization", "cookie", "set-cookie":
			delete(event.Request.Headers, name)
		}
	}
	return event
}
