package cache

import (
	"testing"

	"github.com/Keksclan/goRawrStash/expiry"
)

type opaque struct{ id int }

type labelled struct {
	Name string
	tags map[string]int
}

type userID string

func digest[K any](t *testing.T, key K) string {
	t.Helper()
	d, err := KeyDigest(key)
	if err != nil {
		t.Fatalf("KeyDigest(%#v): %v", key, err)
	}
	return d
}

func TestKeyDigest_Deterministic(t *testing.T) {
	a := digest(t, point{1, 2})
	if a != digest(t, point{1, 2}) {
		t.Fatal("equal keys must hash equally")
	}
	if len(a) != 64 {
		t.Fatalf("digest length = %d, want 64", len(a))
	}

	m := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4}
	want := digest(t, m)
	for range 20 {
		if digest(t, map[string]int{"d": 4, "c": 3, "b": 2, "a": 1}) != want {
			t.Fatal("map digest depends on iteration order")
		}
	}

	if digest(t, 0.0) != digest(t, negZero()) {
		t.Fatal("0 and -0 are the same key")
	}
}

func negZero() float64 {
	z := 0.0
	return -z
}

func TestKeyDigest_DistinctKeys(t *testing.T) {
	groups := []struct {
		name string
		keys []string
	}{
		{"strings", []string{
			digest(t, "\xff"), digest(t, "\xfe"), digest(t, "\ufffd"), digest(t, ""),
			digest(t, "\u00e9"), digest(t, "e\u0301"), digest(t, "a\x00"), digest(t, "a"),
		}},
		{"byte slices", []string{
			digest(t, []byte{0xff}), digest(t, []byte{0xfe}), digest(t, []byte{}), digest(t, []byte{0}),
		}},
		{"unexported fields", []string{
			digest(t, opaque{1}), digest(t, opaque{2}), digest(t, opaque{}),
		}},
		{"structs with maps", []string{
			digest(t, labelled{Name: "x"}),
			digest(t, labelled{Name: "x", tags: map[string]int{"a": 1}}),
			digest(t, labelled{Name: "x", tags: map[string]int{"a": 2}}),
			digest(t, labelled{Name: "x", tags: map[string]int{"b": 1}}),
		}},
		{"composites", []string{
			digest(t, [2]string{"ab", "c"}), digest(t, [2]string{"a", "bc"}),
			digest(t, point{1, 2}), digest(t, point{2, 1}),
		}},
		{"dynamic types", []string{
			digest[any](t, 1), digest[any](t, int64(1)), digest[any](t, uint(1)),
			digest[any](t, "1"), digest[any](t, userID("1")), digest[any](t, true), digest[any](t, nil),
		}},
	}

	for _, g := range groups {
		t.Run(g.name, func(t *testing.T) {
			seen := make(map[string]int, len(g.keys))
			for i, d := range g.keys {
				if j, dup := seen[d]; dup {
					t.Fatalf("keys %d and %d share digest %s", j, i, d)
				}
				seen[d] = i
			}
		})
	}
}

func TestKeyDigest_RejectsIdentityKeys(t *testing.T) {
	x := 1
	if _, err := KeyDigest(&x); err == nil {
		t.Fatal("expected pointer keys to be rejected")
	}
	if _, err := KeyDigest(struct{ ch chan int }{}); err == nil {
		t.Fatal("expected channel fields to be rejected")
	}
}

func TestDisk_LookalikeKeysKeepTheirValues(t *testing.T) {
	dir := t.TempDir()
	ctx := t.Context()

	strs := openDisk[string](t, dir, "strings")
	keys := []string{"\xff", "\xfe", "\ufffd"}
	for _, k := range keys {
		strs.Put(ctx, k, "value of "+k, expiry.None)
	}
	for _, k := range keys {
		if v, ok := strs.Get(ctx, k); !ok || v != "value of "+k {
			t.Fatalf("Get(%q) = %q, %v", k, v, ok)
		}
	}

	ids, err := OpenDisk[opaque, int](dir, "opaque")
	if err != nil {
		t.Fatalf("OpenDisk: %v", err)
	}
	t.Cleanup(func() { _ = ids.Close() })
	ids.Put(ctx, opaque{1}, 10, expiry.None)
	if _, ok := ids.Get(ctx, opaque{2}); ok {
		t.Fatal("opaque{2} must not read the entry of opaque{1}")
	}
	if n := ids.Len(ctx); n != 1 {
		t.Fatalf("Len = %d, want 1", n)
	}
}

func TestDisk_UnencodableKeyIsMissAndNoop(t *testing.T) {
	d, err := OpenDisk[*int, string](t.TempDir(), "ptr")
	if err != nil {
		t.Fatalf("OpenDisk: %v", err)
	}
	t.Cleanup(func() { _ = d.Close() })
	ctx := t.Context()

	k := new(int)
	d.Put(ctx, k, "v", expiry.None)
	if _, ok := d.Get(ctx, k); ok {
		t.Fatal("expected miss for a pointer key")
	}
	if n := d.Len(ctx); n != 0 {
		t.Fatalf("Len = %d, want 0", n)
	}
}
