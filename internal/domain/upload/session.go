package upload

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"asset-pipeline/internal/domain/asset"
)

const baseUpdateBuffer = 16

type (
	Update struct {
		SessionID uuid.UUID
		Stage     Stage
		Percent   int
		Attempt   int
		Message   string
		Err       error
	}

	State struct {
		ID          uuid.UUID
		OwnerID     asset.OwnerID
		ContentType asset.ContentType
		Stage       Stage
		Percent     int
		Attempt     int
		LastError   error
		Cancelled   bool
		CreatedAt   time.Time
	}

	// Session is one submission travelling through the stages. It lives in memory
	// only; the update stream is closed when the session reaches a terminal stage.
	Session struct {
		ID          uuid.UUID
		OwnerID     asset.OwnerID
		ContentType asset.ContentType
		CreatedAt   time.Time

		mu        sync.Mutex
		stage     Stage
		percent   int
		attempt   int
		lastErr   error
		cancelled bool
		started   bool

		updates chan Update
		done    chan struct{}

		result    *asset.Asset
		duplicate bool
	}
)

// NewSession sizes the update buffer so a full run (every stage plus every retry)
// never blocks the pipeline on a slow reader.
func NewSession(owner asset.OwnerID, ct asset.ContentType, maxAttempts int) *Session {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &Session{
		ID:          uuid.New(),
		OwnerID:     owner,
		ContentType: ct,
		CreatedAt:   time.Now().UTC(),
		stage:       StageValidation,
		updates:     make(chan Update, baseUpdateBuffer+maxAttempts),
		done:        make(chan struct{}),
	}
}

// Start emits the first update for StageValidation.
func (s *Session) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return
	}
	s.started = true
	s.percent = StageValidation.Percent(0)
	s.emit(Update{SessionID: s.ID, Stage: StageValidation, Percent: s.percent})
}

// Advance moves the session to the next stage. Cancellation is observed here,
// between stages.
func (s *Session) Advance(to Stage, attempt int, message string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelled {
		return ErrCancelled
	}
	if !CanTransition(s.stage, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStage, s.stage, to)
	}

	s.stage = to
	s.attempt = attempt
	s.percent = to.Percent(attempt)
	s.emit(Update{SessionID: s.ID, Stage: to, Percent: s.percent, Attempt: attempt, Message: message})

	return nil
}

// Checkpoint reports cancellation without changing stage.
func (s *Session) Checkpoint() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return ErrCancelled
	}
	return nil
}

func (s *Session) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stage.Terminal() {
		return
	}

	attempt := s.attempt
	failedAt := s.stage
	s.stage = StageFailed
	s.lastErr = err
	s.emit(Update{SessionID: s.ID, Stage: StageFailed, Percent: failedAt.Percent(attempt), Attempt: attempt, Message: err.Error(), Err: err})
	s.finish()
}

func (s *Session) Complete(a *asset.Asset, duplicate bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !CanTransition(s.stage, StageComplete) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStage, s.stage, StageComplete)
	}

	s.stage = StageComplete
	s.percent = StageComplete.Percent(0)
	s.result = a
	s.duplicate = duplicate
	s.emit(Update{SessionID: s.ID, Stage: StageComplete, Percent: s.percent, Attempt: s.attempt})
	s.finish()

	return nil
}

// Cancel sets the cancellation flag. It is refused once the database stage began.
func (s *Session) Cancel() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.stage.Cancellable() {
		return ErrTooLateToCancel
	}
	s.cancelled = true
	return nil
}

func (s *Session) Cancelled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cancelled
}

func (s *Session) Stage() Stage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stage
}

func (s *Session) Snapshot() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return State{
		ID:          s.ID,
		OwnerID:     s.OwnerID,
		ContentType: s.ContentType,
		Stage:       s.stage,
		Percent:     s.percent,
		Attempt:     s.attempt,
		LastError:   s.lastErr,
		Cancelled:   s.cancelled,
		CreatedAt:   s.CreatedAt,
	}
}

func (s *Session) Updates() <-chan Update { return s.updates }
func (s *Session) Done() <-chan struct{}  { return s.done }

// Result is valid once Done is closed.
func (s *Session) Result() (*asset.Asset, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.result, s.duplicate, s.lastErr
}

// emit never blocks: the buffer is sized for a full run, extra updates are dropped.
func (s *Session) emit(u Update) {
	select {
	case s.updates <- u:
	default:
	}
}

func (s *Session) finish() {
	close(s.updates)
	close(s.done)
}
