package sessions

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/curation"
	"github.com/OFFIS-RIT/biorel/backend/pkg/logger"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store"
)

const DefaultIdleTTL = 2 * time.Hour

var ErrNotFound = errors.New("review session not found")

type NewRegistryParams struct {
	Graph   store.GraphStore
	Log     store.DecisionLog
	IdleTTL time.Duration
	Now     func() time.Time
}

type entry struct {
	session  *curation.Session
	owner    string
	lastUsed time.Time
}

// Registry keeps the review sessions of this process. Sessions idle for
// longer than the TTL are dropped by Sweep; their decisions stay in the
// decision log.
type Registry struct {
	graph   store.GraphStore
	log     store.DecisionLog
	idleTTL time.Duration
	now     func() time.Time

	mu       sync.Mutex
	sessions map[string]*entry
}

func NewRegistry(params NewRegistryParams) *Registry {
	ttl := params.IdleTTL
	if ttl <= 0 {
		ttl = DefaultIdleTTL
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Registry{
		graph:    params.Graph,
		log:      params.Log,
		idleTTL:  ttl,
		now:      now,
		sessions: make(map[string]*entry),
	}
}

// Create starts a session owned by owner and loads candidates into it.
func (r *Registry) Create(owner string, candidates []common.Candidate) (*curation.Session, curation.Progress, error) {
	s, err := curation.NewSession(curation.NewSessionParams{
		Graph:    r.graph,
		Log:      r.log,
		Reviewer: owner,
		Now:      r.now,
	})
	if err != nil {
		return nil, curation.Progress{}, err
	}
	p, err := s.Load(candidates)
	if err != nil {
		return nil, curation.Progress{}, err
	}

	r.mu.Lock()
	r.sessions[s.ID()] = &entry{session: s, owner: owner, lastUsed: r.now()}
	r.mu.Unlock()

	logger.Info("[Sessions] Created review session", "session", s.ID(), "owner", owner, "candidates", p.Total)
	return s, p, nil
}

// Get returns the session id if owner may use it. Admins may use any
// session.
func (r *Registry) Get(id, owner string, admin bool) (*curation.Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || (!admin && e.owner != owner) {
		return nil, ErrNotFound
	}
	e.lastUsed = r.now()
	return e.session, nil
}

func (r *Registry) Delete(id, owner string, admin bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.sessions[id]
	if !ok || (!admin && e.owner != owner) {
		return ErrNotFound
	}
	delete(r.sessions, id)
	return nil
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.sessions)
}

// Sweep drops idle sessions and returns how many were removed.
func (r *Registry) Sweep() int {
	cutoff := r.now().Add(-r.idleTTL)
	r.mu.Lock()
	defer r.mu.Unlock()
	removed := 0
	for id, e := range r.sessions {
		if e.lastUsed.Before(cutoff) {
			delete(r.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		logger.Info("[Sessions] Dropped idle sessions", "count", removed)
	}
	return removed
}

// Run sweeps every interval until ctx is done.
func (r *Registry) Run(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			r.Sweep()
		}
	}
}
