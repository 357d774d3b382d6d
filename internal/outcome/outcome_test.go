// internal/outcome/outcome_test.go
package outcome

import (
	"testing"

	"github.com/astercc518/outreachd/internal/models"
	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name         string
		res          ExecResult
		stopOnFlood  bool
		lastDelegate bool
		want         Decision
	}{
		{
			name: "success",
			res:  ExecResult{Code: CodeOK},
			want: Decision{Outcome: models.OutcomeSuccess},
		},
		{
			name: "privacy restricted is permanent and never halts",
			res:  ExecResult{Code: CodePrivacyRestricted},
			want: Decision{Outcome: models.OutcomePrivacyRestricted},
		},
		{
			name: "flood wait without stop-on-flood continues",
			res:  ExecResult{Code: CodeFloodWait},
			want: Decision{Outcome: models.OutcomeFloodWait, Retryable: true},
		},
		{
			name:        "flood wait with stop-on-flood halts",
			res:         ExecResult{Code: CodeFloodWait},
			stopOnFlood: true,
			want: Decision{
				Outcome:    models.OutcomeFloodWait,
				Retryable:  true,
				HaltTask:   true,
				HaltReason: "flood wait triggered with stop-on-flood enabled",
			},
		},
		{
			name: "banned delegate with pool remaining continues",
			res:  ExecResult{Code: CodeBanned},
			want: Decision{Outcome: models.OutcomeAccountBanned},
		},
		{
			name:         "banned last delegate halts",
			res:          ExecResult{Code: CodeBanned},
			lastDelegate: true,
			want: Decision{
				Outcome:    models.OutcomeAccountBanned,
				HaltTask:   true,
				HaltReason: "last usable delegate was banned",
			},
		},
		{
			name: "explicit error folds to other_error",
			res:  ExecResult{Code: CodeError, Message: "timeout"},
			want: Decision{Outcome: models.OutcomeOtherError, Retryable: true},
		},
		{
			name: "unknown code folds to other_error",
			res:  ExecResult{Code: "weird", Message: "??"},
			want: Decision{Outcome: models.OutcomeOtherError, Retryable: true},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.res, tt.stopOnFlood, tt.lastDelegate)
			assert.Equal(t, tt.want, got)
		})
	}
}
