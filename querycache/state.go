package querycache

import "time"

// Status is the lifecycle stage of a cache entry.
type Status uint8

const (
	// StatusIdle: no data and nothing fetching (new or disabled entry).
	StatusIdle Status = iota
	// StatusLoading: no data yet and the first fetch is in flight.
	StatusLoading
	// StatusSuccess: the most recent settled fetch or write succeeded.
	StatusSuccess
	// StatusError: the most recent settled fetch failed. Data from an
	// earlier success, if any, is still present.
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is an immutable snapshot of a cache entry. The store replaces the
// whole snapshot on every change; never modify one in place.
type State struct {
	Data    any
	HasData bool
	Status  Status
	Err     error

	UpdatedAt      time.Time
	ErrorUpdatedAt time.Time

	IsFetching    bool
	IsInvalidated bool

	// FailureCount counts consecutive failed attempts, retries included.
	FailureCount int

	// DataVersion changes whenever Data is replaced by a different value.
	DataVersion uint64
}

// IsStale reports whether the data is eligible for a refetch.
func (s *State) IsStale(now time.Time, staleTime time.Duration) bool {
	if !s.HasData || s.IsInvalidated {
		return true
	}
	if staleTime == NeverStale {
		return false
	}
	return now.Sub(s.UpdatedAt) >= staleTime
}

func (s *State) clone() *State {
	next := *s
	return &next
}

var emptyState = &State{Status: StatusIdle}

// settledStatus is the status an entry returns to when its fetch is
// abandoned without a result.
func settledStatus(s *State) Status {
	switch {
	case s.Err != nil:
		return StatusError
	case s.HasData:
		return StatusSuccess
	default:
		return StatusIdle
	}
}
