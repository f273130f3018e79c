package migrations

import "testing"

func TestAllMigrationsOrderedAndUnique(t *testing.T) {
	migrations := All()
	if len(migrations) != 2 {
		t.Fatalf("migrations = %d, want 2", len(migrations))
	}

	seen := make(map[string]struct{}, len(migrations))
	previous := ""
	for _, m := range migrations {
		if m.Migrate == nil || m.Rollback == nil {
			t.Fatalf("migration %s must define Migrate and Rollback", m.ID)
		}
		if _, ok := seen[m.ID]; ok {
			t.Fatalf("duplicate migration id %s", m.ID)
		}
		seen[m.ID] = struct{}{}
		if m.ID <= previous {
			t.Fatalf("migration %s is out of order after %s", m.ID, previous)
		}
		previous = m.ID
	}
}
