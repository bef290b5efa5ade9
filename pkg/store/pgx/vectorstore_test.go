package pgx

import (
	"errors"
	"testing"

	"github.com/OFFIS-RIT/biorel/backend/pkg/common"
)

func TestCompareDimensions(t *testing.T) {
	tests := []struct {
		name    string
		typmod  int
		dim     int
		wantErr bool
	}{
		{name: "match", typmod: 1024, dim: 1024},
		{name: "mismatch", typmod: 1024, dim: 768, wantErr: true},
		{name: "unconstrained column", typmod: -1, dim: 1024, wantErr: true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			err := compareDimensions("document_chunks", tc.typmod, tc.dim)
			if tc.wantErr {
				if !errors.Is(err, common.ErrConfiguration) {
					t.Fatalf("expected ErrConfiguration, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestVectorStoreOptions(t *testing.T) {
	s := NewVectorStoreWithConnection(nil, 1024)
	if s.table != DefaultTable || s.Dimensions() != 1024 {
		t.Fatalf("unexpected defaults: %+v", s)
	}
	if got := s.ident(); got != `"document_chunks"` {
		t.Errorf("ident() = %s", got)
	}

	s = NewVectorStoreWithConnection(nil, 8, WithTable(`evil"; DROP TABLE x; --`), nil)
	if got := s.ident(); got != `"evil""; DROP TABLE x; --"` {
		t.Errorf("ident() not quoted: %s", got)
	}
}

func TestSanitizeMetadata(t *testing.T) {
	got := sanitizeMetadata(map[string]string{"title": "a\x00b", "doi": "10.1/x"})
	if got["title"] != "ab" || got["doi"] != "10.1/x" {
		t.Errorf("sanitizeMetadata() = %v", got)
	}
}
