package storage

import (
	"strings"
	"testing"
)

func TestSplitStatements(t *testing.T) {
	tests := []struct {
		name string
		sql  string
		want []string
	}{
		{
			name: "single statement",
			sql:  "CREATE TABLE t (id UInt32)",
			want: []string{"CREATE TABLE t (id UInt32)"},
		},
		{
			name: "two statements",
			sql:  "CREATE TABLE a (id UInt32); CREATE TABLE b (id UInt32);",
			want: []string{"CREATE TABLE a (id UInt32)", "CREATE TABLE b (id UInt32)"},
		},
		{
			name: "semicolon inside string literal",
			sql:  "INSERT INTO t VALUES ('a;b'); SELECT 1",
			want: []string{"INSERT INTO t VALUES ('a;b')", "SELECT 1"},
		},
		{
			name: "escaped quote inside string",
			sql:  "INSERT INTO t VALUES ('it''s;fine')",
			want: []string{"INSERT INTO t VALUES ('it''s;fine')"},
		},
		{
			name: "empty input",
			sql:  "  ;  ; ",
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := splitStatements(tt.sql)
			if len(got) != len(tt.want) {
				t.Fatalf("got %d statements %q, want %d", len(got), got, len(tt.want))
			}
			for i := range tt.want {
				if got[i] != tt.want[i] {
					t.Errorf("stmt[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestMigrationsOrdered(t *testing.T) {
	seen := make(map[int]bool)
	for _, m := range migrations {
		if m.Version < 1 {
			t.Errorf("migration %q has non-positive version %d", m.Name, m.Version)
		}
		if seen[m.Version] {
			t.Errorf("duplicate migration version %d", m.Version)
		}
		seen[m.Version] = true
		if m.Name == "" || strings.TrimSpace(m.SQL) == "" {
			t.Errorf("migration %d is incomplete", m.Version)
		}
	}
}

func TestMigrationsParse(t *testing.T) {
	// Every migration must split into at least one executable statement.
	for _, m := range migrations {
		stmts := splitStatements(m.SQL)
		if len(stmts) == 0 {
			t.Errorf("migration %d (%s) yields no statements", m.Version, m.Name)
		}
		for _, s := range stmts {
			if !strings.Contains(strings.ToUpper(s), "CREATE TABLE") {
				t.Errorf("migration %d contains unexpected statement: %q", m.Version, s)
			}
		}
	}
}
