// internal/outcome/outcome.go
package outcome

import (
	"github.com/astercc518/outreachd/internal/models"
)

// Raw result codes as reported by the action executor.
const (
	CodeOK                = "ok"
	CodePrivacyRestricted = "privacy_restricted"
	CodeFloodWait         = "flood_wait"
	CodeBanned            = "banned"
	CodeError             = "error"
)

// ExecResult is the raw result of one execution attempt, before
// classification. Code is one of the Code* constants; anything
// unrecognized is folded into other_error with the message preserved.
type ExecResult struct {
	Code    string
	Message string
}

// Decision is the classifier output: exactly one taxonomy outcome plus
// the halt verdict. The classifier never mutates task state itself.
type Decision struct {
	Outcome    models.Outcome
	Retryable  bool
	HaltTask   bool
	HaltReason string
}

// Classify maps a raw result onto the closed outcome taxonomy and decides
// whether the task must halt. stopOnFlood is the task's policy flag;
// lastDelegate is true when the acting delegate was the only usable one
// left in the pool.
func Classify(res ExecResult, stopOnFlood, lastDelegate bool) Decision {
	switch res.Code {
	case CodeOK:
		return Decision{Outcome: models.OutcomeSuccess}
	case CodePrivacyRestricted:
		// Permanent for this target; never retried within the task.
		return Decision{Outcome: models.OutcomePrivacyRestricted}
	case CodeFloodWait:
		d := Decision{Outcome: models.OutcomeFloodWait, Retryable: true}
		if stopOnFlood {
			d.HaltTask = true
			d.HaltReason = "flood wait triggered with stop-on-flood enabled"
		}
		return d
	case CodeBanned:
		d := Decision{Outcome: models.OutcomeAccountBanned}
		if lastDelegate {
			d.HaltTask = true
			d.HaltReason = "last usable delegate was banned"
		}
		return d
	default:
		return Decision{Outcome: models.OutcomeOtherError, Retryable: true}
	}
}
