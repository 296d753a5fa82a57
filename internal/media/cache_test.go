package media

import (
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"
)

// ─── Key ──────────────────────────────────────────────────────────────────────

func TestKey(t *testing.T) {
	t.Parallel()

	k1 := Key("openai", "pixel", "a dark cave")
	k2 := Key("openai", "pixel", "a dark cave")
	k3 := Key("openai", "pencil", "a dark cave")

	if len(k1) != 12 {
		t.Errorf("Key length = %d, want 12", len(k1))
	}
	if k1 != k2 {
		t.Errorf("identical inputs produced different keys: %q vs %q", k1, k2)
	}
	if k1 == k3 {
		t.Errorf("different styles produced the same key %q", k1)
	}
}

// ─── Put / Get ────────────────────────────────────────────────────────────────

func TestCachePutGet(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	data := []byte("fake png bytes")
	key := Key("openai", "pixel", "a dark cave")

	entry, err := c.Put("game-00000001", KindImage, key, data, "a dark cave")
	if err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if entry.FilePath != "images/"+key+".png" {
		t.Errorf("FilePath = %q, want %q", entry.FilePath, "images/"+key+".png")
	}

	b64, got, ok := c.Get("game-00000001", KindImage, key)
	if !ok {
		t.Fatal("Get missed immediately after Put")
	}
	if want := base64.StdEncoding.EncodeToString(data); b64 != want {
		t.Errorf("Get returned %q, want %q", b64, want)
	}
	if got.Description != "a dark cave" {
		t.Errorf("Description = %q, want %q", got.Description, "a dark cave")
	}
}

func TestCachePutIsIdempotent(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	key := Key("openai", "pixel", "a torch-lit hall")

	if _, err := c.Put("game-00000002", KindImage, key, []byte("x"), "a torch-lit hall"); err != nil {
		t.Fatalf("first Put failed: %v", err)
	}
	if _, err := c.Put("game-00000002", KindImage, key, []byte("x"), "a torch-lit hall"); err != nil {
		t.Fatalf("second Put failed: %v", err)
	}

	ix, err := c.loadIndex("game-00000002")
	if err != nil {
		t.Fatalf("loadIndex failed: %v", err)
	}
	if len(ix.Images) != 1 {
		t.Errorf("index holds %d image entries, want exactly 1", len(ix.Images))
	}

	if _, _, ok := c.Get("game-00000002", KindImage, key); !ok {
		t.Error("Get missed after duplicate Put")
	}
}

func TestCacheGetMiss(t *testing.T) {
	t.Parallel()

	c := NewCache(t.TempDir())
	if _, _, ok := c.Get("game-00000003", KindMusic, "no-such-key0"); ok {
		t.Error("Get reported a hit on an empty cache")
	}
}

func TestCacheGetRepairsStaleEntry(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := NewCache(root)
	key := Key("musicgen", "combat", "drums")

	if _, err := c.Put("game-00000004", KindMusic, key, []byte("wav"), "drums"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Simulate a prune that removed the file but left the index entry.
	if err := os.Remove(filepath.Join(root, "game-00000004", "music", key+".wav")); err != nil {
		t.Fatalf("remove artifact: %v", err)
	}

	if _, _, ok := c.Get("game-00000004", KindMusic, key); ok {
		t.Fatal("Get returned a hit for a deleted artifact")
	}

	ix, err := c.loadIndex("game-00000004")
	if err != nil {
		t.Fatalf("loadIndex failed: %v", err)
	}
	if _, stale := ix.Music[key]; stale {
		t.Error("stale index entry survived the repairing Get")
	}
}

// ─── Eviction ─────────────────────────────────────────────────────────────────

func TestCacheTTLPrune(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := NewCache(root)
	oldKey := Key("openai", "pixel", "old scene")

	if _, err := c.Put("game-00000005", KindImage, oldKey, []byte("old"), "old scene"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	// Backdate the artifact beyond the TTL.
	oldPath := filepath.Join(root, "game-00000005", "images", oldKey+".png")
	past := time.Now().Add(-8 * 24 * time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("backdate artifact: %v", err)
	}

	// Any write prunes.
	newKey := Key("openai", "pixel", "new scene")
	if _, err := c.Put("game-00000005", KindImage, newKey, []byte("new"), "new scene"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("expired artifact still on disk (stat err = %v)", err)
	}
	if _, _, ok := c.Get("game-00000005", KindImage, newKey); !ok {
		t.Error("fresh artifact was pruned")
	}
}

func TestCacheSizePrune(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := NewCache(root, WithMaxBytes(10))

	oldKey := Key("openai", "pixel", "first")
	if _, err := c.Put("game-00000006", KindImage, oldKey, []byte("12345678"), "first"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	oldPath := filepath.Join(root, "game-00000006", "images", oldKey+".png")
	past := time.Now().Add(-time.Hour)
	if err := os.Chtimes(oldPath, past, past); err != nil {
		t.Fatalf("backdate artifact: %v", err)
	}

	newKey := Key("openai", "pixel", "second")
	if _, err := c.Put("game-00000006", KindImage, newKey, []byte("87654321"), "second"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}

	if _, err := os.Stat(oldPath); !os.IsNotExist(err) {
		t.Errorf("oldest artifact survived a size prune (stat err = %v)", err)
	}
	if _, _, ok := c.Get("game-00000006", KindImage, newKey); !ok {
		t.Error("newest artifact was evicted instead of the oldest")
	}
}

// ─── Clear ────────────────────────────────────────────────────────────────────

func TestCacheClear(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	c := NewCache(root)
	key := Key("openai", "pixel", "scene")

	if _, err := c.Put("game-00000007", KindImage, key, []byte("x"), "scene"); err != nil {
		t.Fatalf("Put failed: %v", err)
	}
	if err := c.Clear("game-00000007"); err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "game-00000007")); !os.IsNotExist(err) {
		t.Errorf("game media dir survived Clear (stat err = %v)", err)
	}
	if err := c.Clear("game-00000007"); err != nil {
		t.Errorf("Clear of a missing dir should be a no-op, got %v", err)
	}
}
