package auth

import (
	"sync"
	"time"
)

// ProfileState is the outcome of the profile fetch for one access token.
// A present token is not a valid token until the fetch says so.
type ProfileState int

const (
	ProfileIdle ProfileState = iota
	ProfileLoading
	ProfileValid
	ProfileInvalid
)

func (s ProfileState) String() string {
	switch s {
	case ProfileLoading:
		return "loading"
	case ProfileValid:
		return "valid"
	case ProfileInvalid:
		return "invalid"
	default:
		return "idle"
	}
}

type ProfileStatus struct {
	State ProfileState
	Err   error
	// RetryAt is when a failed fetch may be attempted again.
	RetryAt time.Time
}

// Retryable reports whether a failed fetch may be attempted again at now.
func (s ProfileStatus) Retryable(now time.Time) bool {
	return s.State == ProfileInvalid && !s.RetryAt.IsZero() && !now.Before(s.RetryAt)
}

// profileTracker remembers the fetch status of the current token only.
type profileTracker struct {
	mu     sync.Mutex
	token  string
	status ProfileStatus
}

func (t *profileTracker) get(token string) ProfileStatus {
	t.mu.Lock()
	defer t.mu.Unlock()
	if token == "" || token != t.token {
		return ProfileStatus{State: ProfileIdle}
	}
	return t.status
}

func (t *profileTracker) set(token string, state ProfileState, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.status = ProfileStatus{State: state, Err: err}
}

func (t *profileTracker) fail(token string, err error, retryAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	t.status = ProfileStatus{State: ProfileInvalid, Err: err, RetryAt: retryAt}
}

// markLoading flips token to loading unless a fetch is already running. It reports whether it did.
func (t *profileTracker) markLoading(token string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.token == token && t.status.State == ProfileLoading {
		return false
	}
	t.token = token
	t.status = ProfileStatus{State: ProfileLoading}
	return true
}

func (t *profileTracker) reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = ""
	t.status = ProfileStatus{}
}
