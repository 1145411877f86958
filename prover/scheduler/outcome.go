package scheduler

// Outcome is the terminal branch a log took through the scheduler.
type Outcome int

const (
	OutcomeDecodeFailed Outcome = iota
	OutcomeQueryFailed
	OutcomeInFlight
	OutcomeNotFound
	OutcomeFulfilled
	OutcomeUnknownStatus
	OutcomeSubmitted
	OutcomeSubmitFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeDecodeFailed:
		return "decode_failed"
	case OutcomeQueryFailed:
		return "query_failed"
	case OutcomeInFlight:
		return "in_flight"
	case OutcomeNotFound:
		return "not_found"
	case OutcomeFulfilled:
		return "fulfilled"
	case OutcomeUnknownStatus:
		return "unknown_status"
	case OutcomeSubmitted:
		return "submitted"
	case OutcomeSubmitFailed:
		return "submit_failed"
	default:
		return "unknown"
	}
}
