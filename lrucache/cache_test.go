package lrucache

import "testing"

func TestTryInsertRefusesDuplicateKey(t *testing.T) {
	c := New(1024)
	if !c.TryInsert("k", []byte("v1")) {
		t.Fatal("expected first insert to succeed")
	}
	if c.TryInsert("k", []byte("v2")) {
		t.Fatal("expected duplicate key insert to be refused")
	}
}

func TestTryInsertRefusesOversize(t *testing.T) {
	c := New(4)
	if c.TryInsert("k", []byte("12345")) {
		t.Fatal("expected oversize insert to be refused")
	}
	if c.Occupancy() != 0 {
		t.Fatalf("oversize insert must not disturb occupancy, got %d", c.Occupancy())
	}
}

func TestTryLoadHitAndMiss(t *testing.T) {
	c := New(1024)
	c.TryInsert("k", []byte("payload"))

	got, ok := c.TryLoad("k", nil)
	if !ok || string(got) != "payload" {
		t.Fatalf("TryLoad(k) = (%q, %v), want (payload, true)", got, ok)
	}
	if _, ok := c.TryLoad("missing", nil); ok {
		t.Fatal("expected miss for unknown key")
	}
}

// TestEvictionOrder mirrors §8 Property 6: capacity C with entries a,b,c of
// size s each where 3s <= C < 4s. Inserting d evicts a; after touching b,
// inserting e evicts c, not b.
func TestEvictionOrder(t *testing.T) {
	const s = 10
	c := New(3 * s)

	mustInsert := func(key string) {
		t.Helper()
		if !c.TryInsert(key, make([]byte, s)) {
			t.Fatalf("expected insert of %q to succeed", key)
		}
	}
	mustInsert("a")
	mustInsert("b")
	mustInsert("c")

	if !c.TryInsert("d", make([]byte, s)) {
		t.Fatal("expected insert of d to succeed after eviction")
	}
	if _, ok := c.TryLoad("a", nil); ok {
		t.Fatal("expected a to have been evicted")
	}
	for _, k := range []string{"b", "c", "d"} {
		if _, ok := c.TryLoad(k, nil); !ok {
			t.Fatalf("expected %q to still be cached", k)
		}
	}

	// The loop above touched b, c, d in that order; touching b again makes c
	// the new LRU victim.
	if _, ok := c.TryLoad("b", nil); !ok {
		t.Fatal("expected b to still be cached")
	}
	if !c.TryInsert("e", make([]byte, s)) {
		t.Fatal("expected insert of e to succeed after eviction")
	}
	if _, ok := c.TryLoad("c", nil); ok {
		t.Fatal("expected c to have been evicted, not b")
	}
	if _, ok := c.TryLoad("b", nil); !ok {
		t.Fatal("expected b to still be cached")
	}
}

func TestDeleteRemovesEntryAndFreesOccupancy(t *testing.T) {
	c := New(1024)
	c.TryInsert("k", []byte("value"))
	if !c.Delete("k") {
		t.Fatal("expected Delete(k) to report found")
	}
	if c.Delete("k") {
		t.Fatal("expected second Delete(k) to report not found")
	}
	if c.Occupancy() != 0 {
		t.Fatalf("expected occupancy 0 after Delete, got %d", c.Occupancy())
	}
	if _, ok := c.TryLoad("k", nil); ok {
		t.Fatal("expected k to be gone after Delete")
	}
}

func TestClear(t *testing.T) {
	c := New(1024)
	c.TryInsert("k", []byte("v"))
	c.Clear()
	if c.Occupancy() != 0 {
		t.Fatalf("expected occupancy 0 after Clear, got %d", c.Occupancy())
	}
	if _, ok := c.TryLoad("k", nil); ok {
		t.Fatal("expected cache to be empty after Clear")
	}
}

func TestStatsTracksHitsAndMisses(t *testing.T) {
	c := New(1024)
	c.TryInsert("k", []byte("v"))
	c.TryLoad("k", nil)
	c.TryLoad("missing", nil)

	stats := c.Stats()
	if stats.Hits != 1 || stats.Misses != 1 {
		t.Fatalf("Stats() = %+v, want Hits=1 Misses=1", stats)
	}
	if stats.Entries != 1 {
		t.Fatalf("Stats().Entries = %d, want 1", stats.Entries)
	}
}
