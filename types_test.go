package actorauth

import (
	"encoding/json"
	"strings"
	"testing"
	"time"
)

func TestTokenPairJSON(t *testing.T) {
	loc := time.FixedZone("UTC+2", 2*60*60)
	pair := TokenPair{
		AccessToken:      "a.b.c",
		RefreshToken:     "d.e.f",
		AccessExpiresAt:  time.Date(2026, 3, 1, 12, 0, 0, 0, loc),
		RefreshExpiresAt: time.Date(2026, 3, 8, 12, 0, 0, 0, loc),
	}

	raw, err := json.Marshal(pair)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	body := string(raw)
	for _, want := range []string{`"access_token":"a.b.c"`, `"refresh_token":"d.e.f"`, `"access_expires_at":"2026-03-01T10:00:00Z"`, `"refresh_expires_at":"2026-03-08T10:00:00Z"`} {
		if !strings.Contains(body, want) {
			t.Fatalf("expected %s in %s", want, body)
		}
	}

	var back TokenPair
	if err := json.Unmarshal(raw, &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back.AccessToken != pair.AccessToken || !back.RefreshExpiresAt.Equal(pair.RefreshExpiresAt) {
		t.Fatalf("unexpected decode %+v", back)
	}

	if err := json.Unmarshal([]byte(`{"access_expires_at":"yesterday"}`), &back); err == nil {
		t.Fatal("expected error for a non-RFC3339 timestamp")
	}
}
