package database

import (
	"strings"
	"testing"
)

func TestMigrations_Ordered(t *testing.T) {
	ms, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	if len(ms) < 3 {
		t.Fatalf("Migrations() returned %d files, want at least 3", len(ms))
	}
	for i := 1; i < len(ms); i++ {
		if ms[i-1].Version >= ms[i].Version {
			t.Errorf("migration %s sorted before %s", ms[i-1].Version, ms[i].Version)
		}
	}
}

func TestMigrations_IdentityIndexes(t *testing.T) {
	ms, err := Migrations()
	if err != nil {
		t.Fatalf("Migrations() error = %v", err)
	}
	var all strings.Builder
	for _, m := range ms {
		all.WriteString(m.SQL)
	}
	schema := all.String()

	for _, table := range []string{"addresses", "phones", "emails", "websites", "chats", "tax_identifiers"} {
		want := "ON " + table + " (tenant_id, contact_id, fingerprint)"
		if !strings.Contains(schema, want) {
			t.Errorf("schema missing unique identity index for %s", table)
		}
	}
	if !strings.Contains(schema, "ON mappings (header_hash)") {
		t.Error("schema missing unique index on mappings.header_hash")
	}
}
