package pipeline

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/couchcryptid/lawn-watering-advisor/internal/domain"
	"github.com/couchcryptid/lawn-watering-advisor/internal/observability"
)

// ErrSessionNotFound is returned for unknown or expired session ids.
var ErrSessionNotFound = errors.New("session not found")

// Stage is the orchestrator's position in a calculation attempt.
type Stage string

const (
	StageIdle              Stage = "idle"
	StageValidating        Stage = "validating"
	StageResolvingLocation Stage = "resolving_location"
	StageFetchingWeather   Stage = "fetching_weather"
	StageComputing         Stage = "computing"
	StageDone              Stage = "done"
	StageError             Stage = "error"
)

// SessionState is a point-in-time copy of a session. Location and Result
// are nil until the corresponding stage has succeeded at least once.
type SessionState struct {
	ID string `json:"id"`
	domain.CalculationInput
	Loading            bool                           `json:"loading"`
	ErrorMessage       string                         `json:"error_message"`
	Location           *domain.ResolvedLocation       `json:"location,omitempty"`
	WeatherStationInfo string                         `json:"weather_station_info,omitempty"`
	Result             *domain.WateringRecommendation `json:"result,omitempty"`
	ShowResults        bool                           `json:"show_results"`
	Stage              Stage                          `json:"stage"`
	UpdatedAt          time.Time                      `json:"updated_at"`
}

// FormValid reports whether the submitted postcode can start a calculation.
func (s SessionState) FormValid() bool {
	return domain.ValidPostcode(s.Postcode)
}

// Session holds one user's form and result state. All mutation goes through
// update so an attempt's partial progress is never observed half-written.
type Session struct {
	mu       sync.Mutex
	state    SessionState
	running  bool
	lastUsed time.Time
}

// NewSession returns an idle session with the default form values.
func NewSession() *Session {
	now := domain.Now()
	return &Session{
		state: SessionState{
			ID:               uuid.NewString(),
			CalculationInput: domain.DefaultInput(),
			Stage:            StageIdle,
			UpdatedAt:        now,
		},
		lastUsed: now,
	}
}

func (s *Session) ID() string {
	return s.state.ID
}

// Snapshot returns a copy of the current state.
func (s *Session) Snapshot() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state
	if st.Location != nil {
		loc := *st.Location
		st.Location = &loc
	}
	if st.Result != nil {
		rec := *st.Result
		st.Result = &rec
	}
	return st
}

// Running reports whether an attempt is in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Session) update(fn func(*SessionState)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.state)
	s.state.UpdatedAt = domain.Now()
	s.lastUsed = s.state.UpdatedAt
}

// begin claims the session for one attempt. It returns false if another
// attempt already holds it.
func (s *Session) begin() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	return true
}

func (s *Session) end() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	s.state.Loading = false
	s.lastUsed = domain.Now()
}

func (s *Session) idleSince(now time.Time) (time.Duration, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return now.Sub(s.lastUsed), s.running
}

// SessionStore keeps sessions in memory keyed by id. Sessions idle for
// longer than the TTL are dropped on access or by Sweep.
type SessionStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	metrics  *observability.Metrics
}

// NewSessionStore creates a store. A zero ttl keeps sessions forever.
func NewSessionStore(ttl time.Duration, metrics *observability.Metrics) *SessionStore {
	return &SessionStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		metrics:  metrics,
	}
}

// Create registers a new session.
func (st *SessionStore) Create() *Session {
	sess := NewSession()
	st.mu.Lock()
	st.sessions[sess.ID()] = sess
	n := len(st.sessions)
	st.mu.Unlock()
	st.metrics.SessionsActive.Set(float64(n))
	return sess
}

// Get returns the session with the given id.
func (st *SessionStore) Get(id string) (*Session, error) {
	st.mu.Lock()
	defer st.mu.Unlock()
	sess, ok := st.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if st.expired(sess, domain.Now()) {
		delete(st.sessions, id)
		st.metrics.SessionsActive.Set(float64(len(st.sessions)))
		return nil, ErrSessionNotFound
	}
	return sess, nil
}

func (st *SessionStore) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.sessions)
}

// Sweep removes expired sessions and returns how many were removed.
// Sessions with an attempt in flight are never removed.
func (st *SessionStore) Sweep() int {
	now := domain.Now()
	st.mu.Lock()
	defer st.mu.Unlock()
	removed := 0
	for id, sess := range st.sessions {
		if st.expired(sess, now) {
			delete(st.sessions, id)
			removed++
		}
	}
	st.metrics.SessionsActive.Set(float64(len(st.sessions)))
	return removed
}

// RunSweeper calls Sweep every interval until ctx is cancelled.
func (st *SessionStore) RunSweeper(ctx context.Context, interval time.Duration) {
	if st.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			st.Sweep()
		}
	}
}

func (st *SessionStore) expired(sess *Session, now time.Time) bool {
	if st.ttl <= 0 {
		return false
	}
	idle, running := sess.idleSince(now)
	return !running && idle > st.ttl
}
