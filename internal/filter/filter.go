// internal/filter/filter.go
package filter

import (
	"time"

	"github.com/astercc518/outreachd/internal/models"
)

// Options carries the exclusion rules applied on top of the predicate set.
type Options struct {
	DestinationGroup      string
	ExcludeInvited        bool
	ExcludeFailedRecently bool
	FailedCooldown        time.Duration
	Cap                   int
	Now                   time.Time // zero means time.Now()

	// Queued holds candidate ids with an unresolved assignment for the
	// same destination group under another task. The invited exclusion
	// covers pending work too, not just recorded successes.
	Queued map[string]struct{}
}

// Select returns the ordered, capped sequence of eligible candidate ids
// from a snapshot. It is pure: for a fixed snapshot and fixed options the
// result is identical on every call, which is what makes operator previews
// reproducible. An empty result is not an error; the caller decides.
func Select(snapshot []models.TargetCandidate, f models.Filter, opts Options) []string {
	now := opts.Now
	if now.IsZero() {
		now = time.Now()
	}

	ids := make([]string, 0, len(snapshot))
	for i := range snapshot {
		c := &snapshot[i]
		if !matches(c, f) {
			continue
		}
		if opts.ExcludeInvited {
			if c.InvitedTo(opts.DestinationGroup) {
				continue
			}
			if _, queued := opts.Queued[c.ID]; queued {
				continue
			}
		}
		if opts.ExcludeFailedRecently && c.FailedWithin(opts.FailedCooldown, now) {
			continue
		}
		ids = append(ids, c.ID)
		if opts.Cap > 0 && len(ids) == opts.Cap {
			break
		}
	}
	return ids
}

func matches(c *models.TargetCandidate, f models.Filter) bool {
	if c.Score < f.MinScore {
		return false
	}
	if len(f.FunnelStages) > 0 && !contains(f.FunnelStages, c.FunnelStage) {
		return false
	}
	if len(f.SourceGroups) > 0 && !contains(f.SourceGroups, c.SourceGroup) {
		return false
	}
	// Tag predicate: the candidate must carry every requested tag.
	for _, tag := range f.Tags {
		if !contains(c.Tags, tag) {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
