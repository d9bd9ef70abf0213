package ids

import (
	"testing"
	"time"
)

func TestNewULID_SortsWithinSameMillisecond(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	prev := ""
	for i := 0; i < 100; i++ {
		id, err := NewULID(now)
		if err != nil {
			t.Fatalf("NewULID: %v", err)
		}
		if len(id) != 26 {
			t.Fatalf("len=%d want=26", len(id))
		}
		if id <= prev {
			t.Fatalf("ids not increasing: prev=%s id=%s", prev, id)
		}
		prev = id
	}
}

func TestValid(t *testing.T) {
	if !Valid(MustNewULID(time.Now())) {
		t.Fatalf("generated id must be valid")
	}
	if Valid("not-a-ulid") {
		t.Fatalf("expected invalid")
	}
}
