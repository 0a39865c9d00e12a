package room

import "time"

// ensureRound returns the entry for round n, creating it lazily. Entries stay
// ordered by round number regardless of arrival order, so a response seen
// before its round_start still lands in the right place.
func (s *State) ensureRound(n int) *RoundEntry {
	idx := 0
	for idx < len(s.Timeline) {
		if s.Timeline[idx].Round == n {
			return &s.Timeline[idx]
		}
		if s.Timeline[idx].Round > n {
			break
		}
		idx++
	}
	s.Timeline = append(s.Timeline, RoundEntry{})
	copy(s.Timeline[idx+1:], s.Timeline[idx:])
	s.Timeline[idx] = RoundEntry{Round: n}
	return &s.Timeline[idx]
}

// startRound marks round n started at the given time. The first start wins;
// a duplicate round_start does not move the clock.
func (s *State) startRound(n int, at time.Time) *RoundEntry {
	entry := s.ensureRound(n)
	if entry.StartedAt.IsZero() {
		entry.StartedAt = at
	}
	return entry
}

// recordResponse appends a seller turn to round n, creating the entry when
// the round_start has not arrived yet.
func (s *State) recordResponse(n int, resp SellerResponse) *RoundEntry {
	entry := s.ensureRound(n)
	entry.Responses = append(entry.Responses, resp)
	return entry
}

// roundLatency computes milliseconds elapsed since the round started,
// clamped at zero. Returns 0 when the round start is unknown; latency is a
// best-effort metric and is never backfilled.
func roundLatency(entry *RoundEntry, now time.Time) int64 {
	if entry == nil || entry.StartedAt.IsZero() {
		return 0
	}
	ms := now.Sub(entry.StartedAt).Milliseconds()
	if ms < 0 {
		return 0
	}
	return ms
}
