package expiry

import (
	"testing"
	"time"
)

func TestCompute(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	tests := []struct {
		name     string
		override TTL
		fallback TTL
		want     time.Time
		wantOK   bool
	}{
		{name: "override wins", override: After(time.Minute), fallback: After(time.Hour), want: now.Add(time.Minute), wantOK: true},
		{name: "zero override never expires", override: Never(), fallback: After(time.Hour)},
		{name: "negative override never expires", override: After(-time.Second), fallback: After(time.Hour)},
		{name: "fallback used when override absent", override: None, fallback: After(time.Hour), want: now.Add(time.Hour), wantOK: true},
		{name: "non-positive fallback ignored", override: None, fallback: After(0)},
		{name: "nothing set", override: None, fallback: None},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := Compute(tt.override, tt.fallback, now)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if !got.Equal(tt.want) {
				t.Fatalf("expiry = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestExpired(t *testing.T) {
	now := time.Now()
	if Expired(time.Time{}, now) {
		t.Fatal("zero deadline must never expire")
	}
	if !Expired(now, now) {
		t.Fatal("deadline equal to now should be expired")
	}
	if Expired(now.Add(time.Millisecond), now) {
		t.Fatal("future deadline should not be expired")
	}
}

func TestTTLAccessors(t *testing.T) {
	if None.IsSet() {
		t.Fatal("None must not be set")
	}
	d, ok := After(3 * time.Second).Duration()
	if !ok || d != 3*time.Second {
		t.Fatalf("After(3s).Duration() = %v, %v", d, ok)
	}
	if !Never().IsSet() {
		t.Fatal("Never must be set")
	}
}
