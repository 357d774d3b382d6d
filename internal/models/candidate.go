// internal/models/candidate.go
package models

import "time"

// Filter is the predicate set an operator configures for target selection.
type Filter struct {
	Tags         []string `json:"tags,omitempty" yaml:"tags"`
	MinScore     int      `json:"minScore" yaml:"minScore"`
	FunnelStages []string `json:"funnelStages,omitempty" yaml:"funnelStages"`
	SourceGroups []string `json:"sourceGroups,omitempty" yaml:"sourceGroups"`
}

// TargetCandidate is one user eligible for outreach. The engine does not
// own candidates; it only reads them as filter input. InvitedGroups and
// LastFailedAt carry the prior-invite history the exclusion rules need.
type TargetCandidate struct {
	ID            string     `json:"id"`
	Tags          []string   `json:"tags,omitempty"`
	Score         int        `json:"score"`
	FunnelStage   string     `json:"funnelStage,omitempty"`
	SourceGroup   string     `json:"sourceGroup,omitempty"`
	InvitedGroups []string   `json:"invitedGroups,omitempty"`
	LastFailedAt  *time.Time `json:"lastFailedAt,omitempty"`
}

// InvitedTo reports whether the candidate already has a successful or
// pending assignment targeting the given destination group.
func (c *TargetCandidate) InvitedTo(destinationGroup string) bool {
	for _, g := range c.InvitedGroups {
		if g == destinationGroup {
			return true
		}
	}
	return false
}

// FailedWithin reports whether the candidate failed inside the cooldown
// window ending at now.
func (c *TargetCandidate) FailedWithin(window time.Duration, now time.Time) bool {
	if c.LastFailedAt == nil {
		return false
	}
	return now.Sub(*c.LastFailedAt) < window
}
