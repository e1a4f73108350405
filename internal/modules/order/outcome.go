// README: Tagged outcomes for every lifecycle operation; business misses are values, not errors.
package order

// Outcome is the result tag of a lifecycle operation. Every race and
// precondition miss maps to an outcome so the front door can always answer
// the actor; only infrastructure failures travel as errors.
type Outcome string

const (
	// claim
	OutcomeClaimed          Outcome = "claimed"
	OutcomeAlreadyTaken     Outcome = "already_taken"
	OutcomeAlreadyProcessed Outcome = "already_processed"
	OutcomeCityMismatch     Outcome = "city_mismatch"
	OutcomeForbiddenKind    Outcome = "forbidden_kind"
	OutcomeUnverified       Outcome = "unverified"
	OutcomeLimitExceeded    Outcome = "limit_exceeded"

	// release / complete
	OutcomeReleased       Outcome = "released"
	OutcomeReleasedManual Outcome = "released_manual"
	OutcomeCompleted      Outcome = "completed"
	OutcomeNotClaimed     Outcome = "not_claimed"

	// undo
	OutcomeUndone   Outcome = "undone"
	OutcomeTooLate  Outcome = "too_late"
	OutcomeExpired  Outcome = "expired"
	OutcomeNotYours Outcome = "not_yours"

	// decline
	OutcomeDeclined Outcome = "declined"
	OutcomeStale    Outcome = "stale"

	// cancel
	OutcomeCancelled Outcome = "cancelled"

	// publication
	OutcomePublished          Outcome = "published"
	OutcomeAlreadyPublished   Outcome = "already_published"
	OutcomeMissingDestination Outcome = "missing_destination"
	OutcomePublishFailed      Outcome = "publish_failed"

	OutcomeNotFound Outcome = "not_found"
)
