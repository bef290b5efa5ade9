package curation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type State string

const (
	StateAwaitingBatch State = "awaiting_batch"
	StateReviewing     State = "reviewing"
	StateComplete      State = "complete"
)

var (
	// ErrActionInFlight is returned when an action arrives while another
	// action of the same session is still running.
	ErrActionInFlight = errors.New("another action is in flight for this session")
	ErrNoBatch        = errors.New("no candidates loaded")
	ErrComplete       = errors.New("review is complete")
	ErrNotComplete    = errors.New("review is not complete")
	ErrInProgress     = errors.New("review is in progress")
)

type NewSessionParams struct {
	ID       string
	Graph    store.GraphStore
	Log      store.DecisionLog
	Reviewer string
	Now      func() time.Time
}

// Session walks one reviewer through a batch of candidates. Every action
// moves the walk forward by exactly one candidate; a failed commit leaves
// it where it was.
type Session struct {
	id       string
	graph    store.GraphStore
	log      store.DecisionLog
	reviewer string
	now      func() time.Time

	// busy admits one action at a time, mu guards the fields below.
	busy sync.Mutex
	mu   sync.RWMutex

	loaded     bool
	candidates []common.Candidate
	index      int
	decisions  []common.ReviewDecision
}

// Progress is a snapshot of the walk. Current is only set for a candidate
// that can be reviewed; an incomplete one at the current index is never
// shown and is marked by SkipPending until the next Current or action
// skips it.
type Progress struct {
	SessionID   string            `json:"session_id"`
	State       State             `json:"state"`
	Index       int               `json:"current_index"`
	Total       int               `json:"total"`
	Current     *common.Candidate `json:"current,omitempty"`
	SkipPending bool              `json:"skip_pending,omitempty"`
}

// Outcome reports the result of one review action.
type Outcome struct {
	Decision  common.ReviewDecision `json:"decision"`
	Duplicate bool                  `json:"duplicate"`
	Edge      *common.Edge          `json:"edge,omitempty"`
	Progress  Progress              `json:"progress"`
}

func NewSession(params NewSessionParams) (*Session, error) {
	if params.Graph == nil {
		return nil, fmt.Errorf("%w: review session needs a graph store", common.ErrConfiguration)
	}
	id := params.ID
	if id == "" {
		var err error
		if id, err = gonanoid.New(); err != nil {
			return nil, fmt.Errorf("failed to generate session id: %w", err)
		}
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Session{
		id:       id,
		graph:    params.Graph,
		log:      params.Log,
		reviewer: params.Reviewer,
		now:      now,
	}, nil
}

func (s *Session) ID() string { return s.id }

// Load starts a walk over candidates. A new batch is accepted before the
// first batch and after a walk completed.
func (s *Session) Load(candidates []common.Candidate) (Progress, error) {
	if !s.busy.TryLock() {
		return Progress{}, ErrActionInFlight
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded && s.index < len(s.candidates) {
		return Progress{}, ErrInProgress
	}

	batch := make([]common.Candidate, len(candidates))
	for i, c := range candidates {
		c = normalizeCandidate(c)
		if c.ID == "" {
			id, err := gonanoid.New()
			if err != nil {
				return Progress{}, fmt.Errorf("failed to generate candidate id: %w", err)
			}
			c.ID = id
		}
		batch[i] = c
	}
	s.candidates = batch
	s.index = 0
	s.loaded = true

	logger.Info("[Curation] Loaded candidates", "session", s.id, "candidates", len(batch))
	return s.progressLocked(), nil
}

func (s *Session) Progress() Progress {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.progressLocked()
}

func (s *Session) progressLocked() Progress {
	p := Progress{SessionID: s.id, Index: s.index, Total: len(s.candidates)}
	switch {
	case !s.loaded:
		p.State = StateAwaitingBatch
	case s.index >= len(s.candidates):
		p.State = StateComplete
	default:
		p.State = StateReviewing
		c := s.candidates[s.index]
		if c.Validate() != nil {
			p.SkipPending = true
			break
		}
		p.Current = &c
	}
	return p
}

// Decisions returns every decision recorded by this session, including
// those made before a start over.
func (s *Session) Decisions() []common.ReviewDecision {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]common.ReviewDecision(nil), s.decisions...)
}

// Current returns the candidate under review. An incomplete candidate is
// skipped on the spot and reported as a *common.MissingFieldsError.
func (s *Session) Current(ctx context.Context) (common.Candidate, error) {
	if !s.busy.TryLock() {
		return common.Candidate{}, ErrActionInFlight
	}
	defer s.busy.Unlock()

	c, err := s.reviewable(ctx)
	if err != nil {
		return common.Candidate{}, err
	}
	return c, nil
}

// Confirm checks the current candidate for a duplicate and commits it.
// Duplicates are committed as well and flagged in the outcome.
func (s *Session) Confirm(ctx context.Context) (Outcome, error) {
	if !s.busy.TryLock() {
		return Outcome{}, ErrActionInFlight
	}
	defer s.busy.Unlock()

	c, err := s.reviewable(ctx)
	if err != nil {
		return Outcome{}, err
	}

	duplicate, err := IsDuplicate(ctx, s.graph, c)
	if err != nil {
		logger.Error("[Curation] Duplicate check failed", "session", s.id, "candidate", c.ID, "err", err)
		return Outcome{}, err
	}
	if duplicate {
		logger.Warn("[Curation] Candidate already in graph", "session", s.id, "candidate", c.ID,
			"subject", c.Subject, "predicate", c.Predicate, "object", c.Object)
	}

	edge, err := Commit(ctx, s.graph, c, s.now())
	if err != nil {
		logger.Error("[Curation] Commit failed", "session", s.id, "candidate", c.ID, "err", err)
		return Outcome{}, err
	}

	dec := s.advance(ctx, c, common.VerdictConfirmed, duplicate, "")
	return Outcome{Decision: dec, Duplicate: duplicate, Edge: &edge, Progress: s.Progress()}, nil
}

func (s *Session) Reject(ctx context.Context) (Outcome, error) {
	return s.pass(ctx, common.VerdictRejected)
}

func (s *Session) Skip(ctx context.Context) (Outcome, error) {
	return s.pass(ctx, common.VerdictSkipped)
}

func (s *Session) pass(ctx context.Context, verdict common.Verdict) (Outcome, error) {
	if !s.busy.TryLock() {
		return Outcome{}, ErrActionInFlight
	}
	defer s.busy.Unlock()

	c, err := s.reviewable(ctx)
	if err != nil {
		return Outcome{}, err
	}
	dec := s.advance(ctx, c, verdict, false, "")
	return Outcome{Decision: dec, Progress: s.Progress()}, nil
}

// StartOver rewinds a completed walk to the first candidate. Recorded
// decisions are kept.
func (s *Session) StartOver() (Progress, error) {
	if !s.busy.TryLock() {
		return Progress{}, ErrActionInFlight
	}
	defer s.busy.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	switch {
	case !s.loaded:
		return Progress{}, ErrNoBatch
	case s.index < len(s.candidates):
		return Progress{}, ErrNotComplete
	}
	s.index = 0
	logger.Info("[Curation] Starting over", "session", s.id, "decisions", len(s.decisions))
	return s.progressLocked(), nil
}

// reviewable returns the current candidate when it can be reviewed. An
// incomplete candidate is recorded as skipped, the walk moves past it and a
// *common.MissingFieldsError is returned. Callers hold busy.
func (s *Session) reviewable(ctx context.Context) (common.Candidate, error) {
	s.mu.RLock()
	loaded, index, total := s.loaded, s.index, len(s.candidates)
	var c common.Candidate
	if loaded && index < total {
		c = s.candidates[index]
	}
	s.mu.RUnlock()

	switch {
	case !loaded:
		return common.Candidate{}, ErrNoBatch
	case index >= total:
		return common.Candidate{}, ErrComplete
	}

	if err := c.Validate(); err != nil {
		logger.Warn("[Curation] Skipping incomplete candidate", "session", s.id, "candidate", c.ID, "err", err)
		s.advance(ctx, c, common.VerdictSkipped, false, err.Error())
		return common.Candidate{}, err
	}
	return c, nil
}

// advance records a decision for c and moves the walk forward by one.
// Callers hold busy, so the index cannot move between reviewable and
// advance.
func (s *Session) advance(ctx context.Context, c common.Candidate, verdict common.Verdict, duplicate bool, errMsg string) common.ReviewDecision {
	id, err := gonanoid.New()
	if err != nil {
		id = fmt.Sprintf("%s-%d", s.id, time.Now().UnixNano())
	}

	s.mu.Lock()
	dec := common.ReviewDecision{
		ID:        id,
		SessionID: s.id,
		Index:     s.index,
		Candidate: c,
		Verdict:   verdict,
		Reviewer:  s.reviewer,
		Duplicate: duplicate,
		Error:     errMsg,
		DecidedAt: s.now().UTC(),
	}
	s.decisions = append(s.decisions, dec)
	s.index++
	s.mu.Unlock()

	if s.log != nil {
		if err := s.log.AppendDecision(ctx, dec); err != nil {
			logger.Error("[Curation] Failed to persist decision", "session", s.id, "decision", dec.ID, "err", err)
		}
	}
	logger.Debug("[Curation] Recorded decision", "session", s.id, "index", dec.Index, "verdict", verdict)
	return dec
}
