// Package session owns chat transcripts and the submission state machine.
// A session lives in process memory and dies with the service; transcripts
// are never persisted.
package session

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joeyhaverhals/jhpc-new/pkg/ai"
	"github.com/joeyhaverhals/jhpc-new/pkg/domain"
	"github.com/joeyhaverhals/jhpc-new/pkg/gate"
)

var (
	// ErrEmptyMessage rejects submissions that are blank after trimming.
	ErrEmptyMessage = errors.New("empty message")
	// ErrNotAllowed rejects submissions the access gate denies.
	ErrNotAllowed = errors.New("chat access denied")
	// ErrBusy rejects a submission while another is in flight. The new
	// submission is dropped, not queued.
	ErrBusy = errors.New("submission in flight")
)

// dispatchErrorText is the only dispatch-failure copy users ever see;
// the underlying cause goes to the log.
const dispatchErrorText = "Sorry, there was an error processing your message."

// dispatcherFactory builds the provider dispatcher for a policy snapshot.
// Swapped for a stub in tests.
type dispatcherFactory func(domain.AccessPolicy) (ai.Dispatcher, error)

// Session holds one user's transcript and the idle/sending flag that
// guarantees at most one in-flight round trip.
type Session struct {
	ID     string
	UserID string

	dispatcherFor dispatcherFactory
	now           func() time.Time

	mu         sync.Mutex
	transcript []domain.Message
	sending    bool
	lastActive time.Time
}

func newSession(userID string, dispatcherFor dispatcherFactory, now func() time.Time) *Session {
	return &Session{
		ID:            uuid.NewString(),
		UserID:        userID,
		dispatcherFor: dispatcherFor,
		now:           now,
		lastActive:    now(),
	}
}

// Messages returns a copy of the transcript in insertion order.
func (s *Session) Messages() []domain.Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]domain.Message, len(s.transcript))
	copy(out, s.transcript)
	return out
}

// Sending reports whether a submission is currently in flight.
func (s *Session) Sending() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sending
}

// Submit runs one transcript mutation cycle: append the user message,
// dispatch, append exactly one reply. Preconditions (non-empty text, gate
// allows, no submission in flight) fail without touching the transcript.
// On success the returned slice holds the two appended messages; a failed
// dispatch still succeeds here, with a system-role entry in second place.
func (s *Session) Submit(ctx context.Context, text string, policy *domain.AccessPolicy, user *domain.User) ([]domain.Message, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, ErrEmptyMessage
	}
	// Defensive re-check; the UI disables the input on denial but the
	// policy may have changed since the last render.
	if decision := gate.Evaluate(policy, user, s.now()); !decision.Allowed {
		return nil, ErrNotAllowed
	}

	s.mu.Lock()
	if s.sending {
		s.mu.Unlock()
		return nil, ErrBusy
	}
	s.sending = true
	userMessage := domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.MessageRoleUser,
		Content:   text,
		Timestamp: s.now(),
	}
	// The user message is visible before any network activity.
	s.transcript = append(s.transcript, userMessage)
	snapshot := make([]domain.Message, len(s.transcript))
	copy(snapshot, s.transcript)
	s.lastActive = s.now()
	s.mu.Unlock()

	reply := s.roundTrip(ctx, snapshot, *policy)

	s.mu.Lock()
	s.transcript = append(s.transcript, reply)
	s.sending = false
	s.lastActive = s.now()
	s.mu.Unlock()

	return []domain.Message{userMessage, reply}, nil
}

// roundTrip performs the single outbound call and normalizes failure into
// the fixed system message. It runs without the transcript lock held; the
// sending flag keeps other submissions out in the meantime.
func (s *Session) roundTrip(ctx context.Context, snapshot []domain.Message, policy domain.AccessPolicy) domain.Message {
	dispatcher, err := s.dispatcherFor(policy)
	if err == nil {
		var text string
		text, err = dispatcher.Dispatch(ctx, snapshot)
		if err == nil {
			return domain.Message{
				ID:        uuid.NewString(),
				Role:      domain.MessageRoleAssistant,
				Content:   text,
				Timestamp: s.now(),
			}
		}
	}
	slog.Warn("chat dispatch failed", "session_id", s.ID, "provider", policy.Provider, "err", err)
	return domain.Message{
		ID:        uuid.NewString(),
		Role:      domain.MessageRoleSystem,
		Content:   dispatchErrorText,
		Timestamp: s.now(),
	}
}

func (s *Session) touchedBefore(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActive.Before(cutoff)
}
