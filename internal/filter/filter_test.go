// internal/filter/filter_test.go
package filter

import (
	"testing"
	"time"

	"github.com/astercc518/outreachd/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func snapshot() []models.TargetCandidate {
	failedAt := time.Date(2025, 3, 10, 11, 0, 0, 0, time.UTC)
	return []models.TargetCandidate{
		{ID: "u1", Score: 80, Tags: []string{"crypto", "active"}, FunnelStage: "warm", SourceGroup: "g-src-1"},
		{ID: "u2", Score: 40, Tags: []string{"crypto"}, FunnelStage: "cold", SourceGroup: "g-src-1"},
		{ID: "u3", Score: 95, Tags: []string{"crypto", "active"}, FunnelStage: "warm", SourceGroup: "g-src-2", InvitedGroups: []string{"g-dest"}},
		{ID: "u4", Score: 70, Tags: []string{"active"}, FunnelStage: "warm", SourceGroup: "g-src-1", LastFailedAt: &failedAt},
		{ID: "u5", Score: 60, Tags: []string{"crypto", "active"}, FunnelStage: "hot", SourceGroup: "g-src-2"},
	}
}

func TestSelectMatchesPredicates(t *testing.T) {
	f := models.Filter{Tags: []string{"crypto"}, MinScore: 50}
	ids := Select(snapshot(), f, Options{DestinationGroup: "g-dest"})
	assert.Equal(t, []string{"u1", "u3", "u5"}, ids)
}

func TestSelectExcludesInvited(t *testing.T) {
	f := models.Filter{Tags: []string{"crypto"}, MinScore: 50}
	ids := Select(snapshot(), f, Options{DestinationGroup: "g-dest", ExcludeInvited: true})
	assert.Equal(t, []string{"u1", "u5"}, ids)
}

func TestSelectExcludesQueuedTargets(t *testing.T) {
	f := models.Filter{Tags: []string{"crypto"}, MinScore: 50}
	queued := map[string]struct{}{"u5": {}}

	ids := Select(snapshot(), f, Options{
		DestinationGroup: "g-dest",
		ExcludeInvited:   true,
		Queued:           queued,
	})
	assert.Equal(t, []string{"u1"}, ids)

	// Without the invited exclusion the queued set is not consulted.
	ids = Select(snapshot(), f, Options{DestinationGroup: "g-dest", Queued: queued})
	assert.Equal(t, []string{"u1", "u3", "u5"}, ids)
}

func TestSelectExcludesRecentlyFailed(t *testing.T) {
	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	f := models.Filter{Tags: []string{"active"}}

	// u4 failed one hour before now; a 24h cooldown excludes it.
	ids := Select(snapshot(), f, Options{
		DestinationGroup:      "g-dest",
		ExcludeFailedRecently: true,
		FailedCooldown:        24 * time.Hour,
		Now:                   now,
	})
	assert.NotContains(t, ids, "u4")

	// Outside the cooldown window u4 is eligible again.
	ids = Select(snapshot(), f, Options{
		DestinationGroup:      "g-dest",
		ExcludeFailedRecently: true,
		FailedCooldown:        30 * time.Minute,
		Now:                   now,
	})
	assert.Contains(t, ids, "u4")
}

func TestSelectCapsResult(t *testing.T) {
	f := models.Filter{}
	ids := Select(snapshot(), f, Options{Cap: 2})
	assert.Equal(t, []string{"u1", "u2"}, ids)
}

func TestSelectCapLargerThanPool(t *testing.T) {
	f := models.Filter{}
	ids := Select(snapshot(), f, Options{Cap: 100})
	require.Len(t, ids, 5)
}

func TestSelectDeterministic(t *testing.T) {
	f := models.Filter{Tags: []string{"crypto"}, MinScore: 40}
	opts := Options{DestinationGroup: "g-dest", ExcludeInvited: true, Cap: 10}

	first := Select(snapshot(), f, opts)
	second := Select(snapshot(), f, opts)
	assert.Equal(t, first, second)
}

func TestSelectEmptyResultIsNotAnError(t *testing.T) {
	f := models.Filter{MinScore: 1000}
	ids := Select(snapshot(), f, Options{})
	assert.Empty(t, ids)
}

func TestSelectFunnelStageAndSourceGroup(t *testing.T) {
	f := models.Filter{FunnelStages: []string{"warm"}, SourceGroups: []string{"g-src-1"}}
	ids := Select(snapshot(), f, Options{})
	assert.Equal(t, []string{"u1", "u4"}, ids)
}
