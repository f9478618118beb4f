package errors

import (
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/getsentry/sentry-go"

	"github.com/tphakala/pinalbum/internal/privacy"
)

// TelemetryReporter is an interface for reporting errors to telemetry systems
type TelemetryReporter interface {
	ReportError(err *EnhancedError)
	IsEnabled() bool
}

type reporterHolder struct{ r TelemetryReporter }

var telemetryReporter atomic.Pointer[reporterHolder]

// SetTelemetryReporter installs the reporter used by Build. nil disables reporting.
func SetTelemetryReporter(reporter TelemetryReporter) {
	if reporter == nil {
		telemetryReporter.Store(nil)
		return
	}
	telemetryReporter.Store(&reporterHolder{r: reporter})
}

func reportToTelemetry(ee *EnhancedError) {
	h := telemetryReporter.Load()
	if h == nil || !h.r.IsEnabled() {
		return
	}
	h.r.ReportError(ee)
}

// SentryReporter implements TelemetryReporter for Sentry
type SentryReporter struct {
	hub *sentry.Hub
}

// NewSentryReporter reports through hub, or the current hub when nil.
func NewSentryReporter(hub *sentry.Hub) *SentryReporter {
	return &SentryReporter{hub: hub}
}

func (sr *SentryReporter) IsEnabled() bool {
	return sr.currentHub().Client() != nil
}

func (sr *SentryReporter) currentHub() *sentry.Hub {
	if sr.hub != nil {
		return sr.hub
	}
	return sentry.CurrentHub()
}

// ReportError sends the error as a Sentry event with query strings and keys scrubbed.
// Cancellation and validation errors are expected conditions and are skipped.
func (sr *SentryReporter) ReportError(ee *EnhancedError) {
	if ee.IsReported() {
		return
	}
	switch ee.Category {
	case CategoryCancellation, CategoryValidation, CategoryNotFound, CategoryConflict:
		return
	}

	message := scrubMessage(fmt.Sprintf("[%s] %s", ee.Category, ee.Err.Error()))
	title := strings.TrimSpace(titleCase(ee.Component) + " " + string(ee.Category))

	sr.currentHub().WithScope(func(scope *sentry.Scope) {
		scope.SetTag("component", ee.Component)
		scope.SetTag("category", string(ee.Category))
		scope.SetTag("error_type", fmt.Sprintf("%T", ee.Err))
		for key, value := range ee.GetContext() {
			if s, ok := value.(string); ok {
				value = scrubMessage(s)
			}
			scope.SetContext(key, map[string]any{"value": value})
		}
		scope.SetFingerprint([]string{title})

		event := sentry.NewEvent()
		event.Level = levelFor(ee.Category)
		event.Message = message
		event.Exception = []sentry.Exception{{Type: title, Value: message}}
		sr.currentHub().CaptureEvent(event)
	})

	ee.MarkReported()
}

func levelFor(category ErrorCategory) sentry.Level {
	switch category {
	case CategoryNetwork, CategoryImageFetch, CategoryTimeout, CategoryMQTTPublish, CategoryMQTTConnection:
		return sentry.LevelWarning
	default:
		return sentry.LevelError
	}
}

func titleCase(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// scrubMessage redacts credentials before a message leaves the process.
func scrubMessage(message string) string {
	return privacy.ScrubMessage(message)
}
