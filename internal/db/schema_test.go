package db

import (
	"strings"
	"testing"
)

func TestMigrationsOrdered(t *testing.T) {
	for i, m := range Migrations {
		if m.Version != i+1 {
			t.Fatalf("migration %d has version %d", i, m.Version)
		}
		if strings.TrimSpace(m.SQL) == "" || m.Name == "" {
			t.Fatalf("migration %d is empty", m.Version)
		}
	}
}

func TestLedgerKeyIsUnique(t *testing.T) {
	if !strings.Contains(migration001, "idempotency_key TEXT NOT NULL UNIQUE") {
		t.Fatalf("ledger idempotency key must be unique")
	}
	if !strings.Contains(migration003, "PRIMARY KEY (user_id, period_kind, period_key)") {
		t.Fatalf("periodic awards must be keyed per user and period")
	}
	if !strings.Contains(migration005, "ADD PRIMARY KEY (user_id, round_key)") {
		t.Fatalf("quiz scores must be keyed per user and round")
	}
}
