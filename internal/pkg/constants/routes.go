package constants

// Static route constants
const (
	APIRoute     = "/api"
	HealthzRoute = "/healthz"
	MetricsRoute = "/metrics"
	DebugRoute   = "/debug"
	// Docs base path; the swagger middleware appends the version segment.
	DocsAPIRoute = "/docs/api/"

	GoogleBusinessAuthRoute = "/auth/google-business"
	GoogleCallbackRoute     = "/auth/google/callback"
	TwilioCallStatusRoute   = "/webhooks/twilio/call-status"
)
