package sessions

import (
	"errors"
	"testing"
	"time"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
	"github.com/OFFIS-RIT/biorel/backend/pkg/curation"
	"github.com/OFFIS-RIT/biorel/backend/pkg/store/memory"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func newRegistry(c *clock) *Registry {
	return NewRegistry(NewRegistryParams{
		Graph:   memory.NewGraphStore(),
		Log:     memory.NewDecisionLog(),
		IdleTTL: time.Hour,
		Now:     c.now,
	})
}

var tylosin = common.Candidate{
	Subject: "Streptomyces fradiae", SubjectType: common.EntityOrganism,
	Predicate: common.RelationProduces,
	Object:    "tylosin", ObjectType: common.EntityChemical,
}

func TestRegistryOwnership(t *testing.T) {
	c := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	r := newRegistry(c)

	s, p, err := r.Create("alice", []common.Candidate{tylosin})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if p.State != curation.StateReviewing || p.Total != 1 {
		t.Fatalf("unexpected progress %+v", p)
	}

	if got, err := r.Get(s.ID(), "alice", false); err != nil || got != s {
		t.Fatalf("owner lookup: %v", err)
	}
	if _, err := r.Get(s.ID(), "bob", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("other reviewers must not see the session, got %v", err)
	}
	if _, err := r.Get(s.ID(), "bob", true); err != nil {
		t.Fatalf("admin lookup: %v", err)
	}
	if err := r.Delete(s.ID(), "bob", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	if err := r.Delete(s.ID(), "alice", false); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if r.Len() != 0 {
		t.Fatalf("len = %d", r.Len())
	}
}

func TestRegistrySweep(t *testing.T) {
	c := &clock{t: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC)}
	r := newRegistry(c)

	idle, _, _ := r.Create("alice", []common.Candidate{tylosin})
	active, _, _ := r.Create("bob", nil)

	c.t = c.t.Add(45 * time.Minute)
	if _, err := r.Get(active.ID(), "bob", false); err != nil {
		t.Fatalf("Get: %v", err)
	}

	c.t = c.t.Add(30 * time.Minute)
	if n := r.Sweep(); n != 1 {
		t.Fatalf("swept %d sessions, want 1", n)
	}
	if _, err := r.Get(idle.ID(), "alice", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("idle session should be gone, got %v", err)
	}
	if _, err := r.Get(active.ID(), "bob", false); err != nil {
		t.Fatalf("active session should survive: %v", err)
	}
}
