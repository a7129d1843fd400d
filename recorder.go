package secrets

// Recorder receives authentication and session events.  The metrics package
// provides a prometheus backed implementation.
type Recorder interface {
	// RecordAuth records one authentication attempt.  method is "register",
	// "login" or a provider name; outcome is "success" or a failure class.
	RecordAuth(method, outcome string)

	// RecordSession records a session lifecycle event ("established", "destroyed")
	RecordSession(event string)

	// RecordRequest records the final status code of one HTTP request
	RecordRequest(code int)
}

type nopRecorder struct{}

func (nopRecorder) RecordAuth(method, outcome string) {}
func (nopRecorder) RecordSession(event string)        {}
func (nopRecorder) RecordRequest(code int)            {}

// Outcome labels used with RecordAuth
const (
	OutcomeSuccess     = "success"
	OutcomeDuplicate   = "duplicate"
	OutcomeInvalid     = "invalid"
	OutcomeDenied      = "denied"
	OutcomeStoreError  = "store_error"
	OutcomeRateLimited = "rate_limited"
	OutcomeCanceled    = "canceled"
)
