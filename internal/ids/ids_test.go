package ids

import (
	"testing"
	"time"

	"github.com/oklog/ulid/v2"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	prev := New()
	if _, err := ulid.ParseStrict(prev); err != nil {
		t.Fatalf("expected valid ulid, got %q: %v", prev, err)
	}
	for i := 0; i < 1000; i++ {
		next := New()
		if next <= prev {
			t.Fatalf("expected %q to sort after %q", next, prev)
		}
		prev = next
	}
}

func TestNewAtCarriesTimestamp(t *testing.T) {
	at := time.Date(2030, 5, 1, 12, 0, 0, 123e6, time.UTC)
	id, err := ulid.Parse(NewAt(at))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got := ulid.Time(id.Time()); !got.Equal(at) {
		t.Fatalf("expected timestamp %v, got %v", at, got)
	}
}
