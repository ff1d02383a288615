package listing

import (
	"slices"

	"github.com/tsntt/footballdash/internal/domain"
)

var statusOrder = []string{"LIVE", "IN_PLAY", "SCHEDULED", "FINISHED", "PAUSED", "POSTPONED", "SUSPENDED", "CANCELLED"}

func statusRank(status string) int {
	if i := slices.Index(statusOrder, status); i >= 0 {
		return i
	}
	return len(statusOrder)
}

func newestFirst(status string) bool {
	return status == "LIVE" || status == "IN_PLAY" || status == "FINISHED"
}

// SortMatches returns a copy of matches ordered for the operator: by status
// priority, then newest first for live and finished matches and oldest first
// for everything else.
func SortMatches(matches []domain.Match) []domain.Match {
	out := slices.Clone(matches)
	slices.SortStableFunc(out, func(a, b domain.Match) int {
		if ra, rb := statusRank(a.Status), statusRank(b.Status); ra != rb {
			return ra - rb
		}
		if newestFirst(a.Status) {
			return b.UTCDate.Compare(a.UTCDate)
		}
		return a.UTCDate.Compare(b.UTCDate)
	})
	return out
}
