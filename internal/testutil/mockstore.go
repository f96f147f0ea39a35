// Package testutil holds shared test doubles.
package testutil

import (
	"context"
	"sync"

	"github.com/google/uuid"

	"github.com/elie-eliseai/callzilla/internal/store"
)

// MockStore is a thread-safe in-memory implementation of store.Store for
// testing.
type MockStore struct {
	mu sync.Mutex

	Attempts []store.CallAttempt
	Sessions []store.CallSession

	InsertAttemptsErr error
	InsertSessionErr  error
	PingErr           error

	InsertAttemptsCalls int
	InsertSessionCalls  int
}

func NewMockStore() *MockStore {
	return &MockStore{}
}

func (m *MockStore) InsertAttempts(_ context.Context, attempts []store.CallAttempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertAttemptsCalls++
	if m.InsertAttemptsErr != nil {
		return m.InsertAttemptsErr
	}
	m.Attempts = append(m.Attempts, attempts...)
	return nil
}

func (m *MockStore) InsertSession(_ context.Context, sess store.CallSession) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertSessionCalls++
	if m.InsertSessionErr != nil {
		return m.InsertSessionErr
	}
	m.Sessions = append(m.Sessions, sess)
	return nil
}

func (m *MockStore) GetSession(_ context.Context, id uuid.UUID) (*store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, s := range m.Sessions {
		if s.ID == id {
			cp := s
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *MockStore) ListSessions(_ context.Context, limit int) ([]store.CallSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.CallSession, len(m.Sessions))
	copy(out, m.Sessions)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) ListAttemptsBySession(_ context.Context, sessionID uuid.UUID) ([]store.CallAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.CallAttempt
	for _, a := range m.Attempts {
		if a.SessionID == sessionID {
			out = append(out, a)
		}
	}
	return out, nil
}

func (m *MockStore) ListAttemptsByPhone(_ context.Context, phone string, limit int) ([]store.CallAttempt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.CallAttempt
	for _, a := range m.Attempts {
		if a.Phone == phone {
			out = append(out, a)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MockStore) Ping(_ context.Context) error {
	return m.PingErr
}

func (m *MockStore) Close() {}

// AttemptCount returns the number of stored attempts.
func (m *MockStore) AttemptCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Attempts)
}

// GetInsertAttemptsCalls returns how many times InsertAttempts ran.
func (m *MockStore) GetInsertAttemptsCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.InsertAttemptsCalls
}

// StoredAttempts returns a copy of the stored attempts.
func (m *MockStore) StoredAttempts() []store.CallAttempt {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]store.CallAttempt, len(m.Attempts))
	copy(out, m.Attempts)
	return out
}

// SetInsertAttemptsErr swaps the forced insert error.
func (m *MockStore) SetInsertAttemptsErr(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.InsertAttemptsErr = err
}
