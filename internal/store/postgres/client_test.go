package postgres

import (
	"strings"
	"testing"
)

func TestDSN(t *testing.T) {
	tests := []struct {
		name string
		cfg  ClientConfig
		want string
	}{
		{
			name: "explicit dsn wins",
			cfg:  ClientConfig{DSN: "postgres://u@h/db", Host: "ignored"},
			want: "postgres://u@h/db",
		},
		{
			name: "defaults",
			cfg:  ClientConfig{Host: "localhost", Database: "polyarb", User: "bot", Password: "pw"},
			want: "postgres://bot:pw@localhost:5432/polyarb?sslmode=disable",
		},
		{
			name: "port and ssl",
			cfg:  ClientConfig{Host: "db", Port: 6543, Database: "x", User: "u", SSLMode: "require"},
			want: "postgres://u:@db:6543/x?sslmode=require",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DSN(tt.cfg); got != tt.want {
				t.Errorf("DSN = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	names, err := migrations()
	if err != nil {
		t.Fatalf("migrations: %v", err)
	}
	if len(names) != 2 || names[0] != "001_init.sql" || names[1] != "002_fill_cost.sql" {
		t.Fatalf("migrations = %v", names)
	}
	data, err := migrationsFS.ReadFile("migrations/" + names[0])
	if err != nil {
		t.Fatal(err)
	}
	for _, table := range []string{"fills", "audit_log", "snapshots"} {
		if !strings.Contains(string(data), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("001_init.sql does not create %s", table)
		}
	}

	cost, err := migrationsFS.ReadFile("migrations/" + names[1])
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(cost), "cost_cents") {
		t.Errorf("002_fill_cost.sql does not add cost_cents")
	}
}
