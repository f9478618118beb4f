// Package telemetry initialises opt-in Sentry error reporting and hooks it
// into the errors package.
package telemetry

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pinalbum/internal/conf"
	"github.com/tphakala/pinalbum/internal/errors"
	"github.com/tphakala/pinalbum/internal/logger"
	"github.com/tphakala/pinalbum/internal/privacy"
)

const flushTimeout = 2 * time.Second

// InitSentry initialises the Sentry SDK when settings enable it and installs
// the errors package reporter. transport may be nil to use the SDK default.
// The returned flush function is always safe to call.
func InitSentry(settings *conf.SentrySettings, release string, transport sentry.Transport, log logger.Logger) (func(), error) {
	noop := func() {}
	if settings == nil || !settings.Enabled {
		if log != nil {
			log.Debug("sentry telemetry disabled")
		}
		errors.SetTelemetryReporter(nil)
		return noop, nil
	}

	err := sentry.Init(sentry.ClientOptions{
		Dsn:              settings.DSN,
		Environment:      settings.Environment,
		Release:          "pinalbum@" + release,
		Debug:            settings.Debug,
		SampleRate:       1.0,
		AttachStacktrace: false,
		ServerName:       "",
		Transport:        transport,
		BeforeSend:       applyPrivacyFilters,
	})
	if err != nil {
		return noop, fmt.Errorf("sentry initialization failed: %w", err)
	}

	errors.SetTelemetryReporter(errors.NewSentryReporter(nil))
	if log != nil {
		log.Info("sentry telemetry enabled", logger.String("environment", settings.Environment))
	}

	return func() {
		errors.SetTelemetryReporter(nil)
		sentry.Flush(flushTimeout)
	}, nil
}

// applyPrivacyFilters strips host and user identity from every event and
// redacts credentials from its messages.
func applyPrivacyFilters(event *sentry.Event, _ *sentry.EventHint) *sentry.Event {
	event.User = sentry.User{}
	event.ServerName = ""
	event.Message = privacy.ScrubMessage(event.Message)
	for i := range event.Exception {
		event.Exception[i].Value = privacy.ScrubMessage(event.Exception[i].Value)
	}
	if event.Contexts != nil {
		delete(event.Contexts, "device")
		delete(event.Contexts, "os")
	}
	if event.Tags != nil {
		delete(event.Tags, "server_name")
		delete(event.Tags, "hostname")
	}
	return event
}
