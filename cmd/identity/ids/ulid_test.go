package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewULID_EmbedsTimestamp(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	id, err := NewULID(now)
	if err != nil {
		t.Fatalf("NewULID: %v", err)
	}
	if len(id) != 26 {
		t.Fatalf("len=%d want=26", len(id))
	}

	parsed, err := ulid.ParseStrict(id)
	if err != nil {
		t.Fatalf("ParseStrict: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(now) {
		t.Fatalf("timestamp=%v want=%v", got, now)
	}
}

func TestNewULID_Unique(t *testing.T) {
	seen := make(map[string]struct{}, 1000)
	now := time.Now().UTC()
	for i := 0; i < 1000; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if _, dup := seen[id]; dup {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = struct{}{}
	}
}
