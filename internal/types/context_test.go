package types

import (
	"context"
	"testing"
)

// TestActorRoundTrip verifies Actor storage and retrieval from context.
func TestActorRoundTrip(t *testing.T) {
	actor := Actor{ID: "user-1", Type: ActorTypeUser, Email: "a@example.com"}
	ctx := WithActor(context.Background(), actor)

	got, ok := GetActor(ctx)
	if !ok {
		t.Fatal("GetActor should find the stored actor")
	}
	if got.ID != "user-1" || got.Type != ActorTypeUser {
		t.Errorf("GetActor() = %+v, want %+v", got, actor)
	}
}

// TestGetActorMissing verifies the zero value is returned when no actor is set.
func TestGetActorMissing(t *testing.T) {
	_, ok := GetActor(context.Background())
	if ok {
		t.Error("GetActor on empty context should report not found")
	}
}

// TestRequestIDRoundTrip verifies request ID storage and retrieval.
func TestRequestIDRoundTrip(t *testing.T) {
	ctx := WithRequestID(context.Background(), "req-abc")
	if got := GetRequestID(ctx); got != "req-abc" {
		t.Errorf("GetRequestID() = %q, want %q", got, "req-abc")
	}
}

// TestGetRequestIDMissing verifies empty string when no request ID is set.
func TestGetRequestIDMissing(t *testing.T) {
	if got := GetRequestID(context.Background()); got != "" {
		t.Errorf("GetRequestID() = %q, want empty", got)
	}
}

// TestIsTestKey verifies Stripe key mode detection.
func TestIsTestKey(t *testing.T) {
	cases := []struct {
		key  string
		want bool
	}{
		{"sk_test_abc123", true},
		{"sk_live_abc123", false},
		{"pk_test_abc123", false},
		{"", false},
	}
	for _, tc := range cases {
		if got := IsTestKey(tc.key); got != tc.want {
			t.Errorf("IsTestKey(%q) = %v, want %v", tc.key, got, tc.want)
		}
	}
}
