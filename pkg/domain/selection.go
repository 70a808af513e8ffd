package domain

import (
	"bytes"
	"sort"
)

// SortByCreation orders sessions oldest first. GUID breaks ties so every
// store adapter agrees on the order.
func SortByCreation(sessions []*Session) {
	sort.SliceStable(sessions, func(i, j int) bool {
		a, b := sessions[i], sessions[j]
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return bytes.Compare(a.GUID, b.GUID) < 0
	})
}

// CountOpen returns how many sessions are open.
func CountOpen(sessions []*Session) int {
	n := 0
	for _, s := range sessions {
		if s.IsOpen() {
			n++
		}
	}
	return n
}

// SelectMostRecent returns the newest open session, or nil.
func SelectMostRecent(sessions []*Session) *Session {
	var best *Session
	for _, s := range openByCreation(sessions) {
		best = s
	}
	return best
}

// SelectLeastRecentlyUsedFree looks at the first limit open sessions (oldest
// first; limit <= 0 means all) and returns the free one with the oldest
// LastUsedAt, or nil when all of them are in use.
func SelectLeastRecentlyUsedFree(sessions []*Session, limit int) *Session {
	candidates := openByCreation(sessions)
	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}

	var best *Session
	for _, s := range candidates {
		if s.InUse {
			continue
		}
		if best == nil || s.LastUsedAt.Before(best.LastUsedAt) {
			best = s
		}
	}
	return best
}

func openByCreation(sessions []*Session) []*Session {
	open := make([]*Session, 0, len(sessions))
	for _, s := range sessions {
		if s.IsOpen() {
			open = append(open, s)
		}
	}
	SortByCreation(open)
	return open
}
