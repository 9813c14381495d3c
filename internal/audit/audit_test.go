package audit

import (
	"context"
	"strings"
	"testing"
)

func TestDigestJSON(t *testing.T) {
	if DigestJSON(nil) != "" {
		t.Fatalf("expected empty digest for empty payload")
	}
	a := DigestJSON([]byte(`{"serial":"INV-1"}`))
	b := DigestJSON([]byte(`{"serial":"INV-2"}`))
	if len(a) != 64 || a == b {
		t.Fatalf("unexpected digests: %s %s", a, b)
	}
}

func TestNewIDIsUnique(t *testing.T) {
	first, second := NewID(), NewID()
	if !strings.HasPrefix(first, "audit-") || first == second {
		t.Fatalf("unexpected ids: %s %s", first, second)
	}
}

func TestRepositoryNilDB(t *testing.T) {
	if NewRepository(nil) != nil {
		t.Fatalf("expected nil repository without db")
	}
	var repo *Repository
	if err := repo.Log(context.Background(), Entry{}); err == nil {
		t.Fatalf("expected error for nil repository")
	}
}
