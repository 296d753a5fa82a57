// Package media generates and caches the images and music that accompany
// game scenes. The [Cache] is a content-addressed on-disk store keyed by a
// truncated SHA-1 of provider, style (or mood) and description, so replaying
// a cached scene never re-bills the provider. The [Planner] functions turn
// scene data into provider-bound prompts, and [Service] glues cache, planner
// and providers together behind the engine's media interface. Detached
// generation work runs on a bounded [Pool].
package media

import (
	"crypto/sha1"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/fableloom/fableloom/pkg/types"
)

const (
	// DefaultTTL is how long a cached artifact stays eligible to serve.
	DefaultTTL = 7 * 24 * time.Hour

	// DefaultMaxBytes caps the total size of one game's media directory.
	DefaultMaxBytes = 500 << 20 // 500 MiB

	indexFileName = "metadata.json"
)

// Kind selects the image or music half of a game's cache.
type Kind string

const (
	KindImage Kind = "images"
	KindMusic Kind = "music"
)

// ext returns the file extension artifacts of this kind are stored with.
func (k Kind) ext() string {
	if k == KindMusic {
		return ".wav"
	}
	return ".png"
}

// IndexEntry is one cached artifact in a game's metadata.json index.
type IndexEntry struct {
	// FilePath is the artifact's path relative to the game's media directory.
	FilePath string `json:"filePath"`

	// Description is the prompt text the artifact was generated from.
	Description string `json:"description"`

	// GeneratedAt is when the artifact was stored.
	GeneratedAt time.Time `json:"generatedAt"`
}

// index is the on-disk shape of a game's metadata.json.
type index struct {
	Images map[string]IndexEntry `json:"images"`
	Music  map[string]IndexEntry `json:"music"`
}

func newIndex() *index {
	return &index{
		Images: make(map[string]IndexEntry),
		Music:  make(map[string]IndexEntry),
	}
}

func (ix *index) bucket(kind Kind) map[string]IndexEntry {
	if kind == KindMusic {
		return ix.Music
	}
	return ix.Images
}

// CacheOption configures a [Cache].
type CacheOption func(*Cache)

// WithTTL sets the maximum age before artifacts are pruned. Default: 7 days.
func WithTTL(ttl time.Duration) CacheOption {
	return func(c *Cache) {
		if ttl > 0 {
			c.ttl = ttl
		}
	}
}

// WithMaxBytes sets the per-game size cap. Default: 500 MiB.
func WithMaxBytes(n int64) CacheOption {
	return func(c *Cache) {
		if n > 0 {
			c.maxBytes = n
		}
	}
}

// WithCacheClock overrides the wall clock, for deterministic tests.
func WithCacheClock(clock types.Clock) CacheOption {
	return func(c *Cache) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithCacheLogger sets the structured logger. The default is [slog.Default].
func WithCacheLogger(log *slog.Logger) CacheOption {
	return func(c *Cache) {
		if log != nil {
			c.log = log
		}
	}
}

// Cache is the content-addressed media store. Artifacts live under
// {root}/{gameId}/{images,music}/{key}{ext} next to a per-game metadata.json
// index. Index read-modify-write cycles are serialized by a process-wide
// lock; distinct games' artifact files may still be written in parallel by
// their owning sessions.
type Cache struct {
	root     string
	ttl      time.Duration
	maxBytes int64
	clock    types.Clock
	log      *slog.Logger

	mu sync.Mutex // guards every index read-modify-write
}

// NewCache returns a Cache rooted at root. The directory is created on first
// write, not here.
func NewCache(root string, opts ...CacheOption) *Cache {
	c := &Cache{
		root:     root,
		ttl:      DefaultTTL,
		maxBytes: DefaultMaxBytes,
		clock:    types.SystemClock{},
		log:      slog.Default(),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Key derives the content address for an artifact: the first 12 hex digits
// of SHA-1("provider|styleOrMood|description").
func Key(provider, styleOrMood, description string) string {
	sum := sha1.Sum([]byte(provider + "|" + styleOrMood + "|" + description))
	return hex.EncodeToString(sum[:])[:12]
}

// gameDir returns the media directory of one game.
func (c *Cache) gameDir(gameID string) string {
	return filepath.Join(c.root, gameID)
}

// Get looks up a cached artifact and returns its base64-encoded bytes.
// A stale index entry whose file no longer exists is repaired in place and
// reported as a miss.
func (c *Cache) Get(gameID string, kind Kind, key string) (string, *IndexEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	ix, err := c.loadIndex(gameID)
	if err != nil {
		c.log.Warn("media cache index unreadable, treating as empty",
			"game_id", gameID, "error", err)
		return "", nil, false
	}

	entry, ok := ix.bucket(kind)[key]
	if !ok {
		return "", nil, false
	}

	data, err := os.ReadFile(filepath.Join(c.gameDir(gameID), filepath.FromSlash(entry.FilePath)))
	if err != nil {
		// Pruning removes files but leaves the index alone; repair here.
		delete(ix.bucket(kind), key)
		if werr := c.saveIndex(gameID, ix); werr != nil {
			c.log.Warn("media cache index repair failed", "game_id", gameID, "error", werr)
		}
		return "", nil, false
	}

	return base64.StdEncoding.EncodeToString(data), &entry, true
}

// Put stores an artifact under the given key, records it in the index and
// prunes the game directory. Returns the recorded index entry.
func (c *Cache) Put(gameID string, kind Kind, key string, data []byte, description string) (*IndexEntry, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	dir := filepath.Join(c.gameDir(gameID), string(kind))
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("media: create cache dir: %w", err)
	}

	name := key + kind.ext()
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return nil, fmt.Errorf("media: write artifact: %w", err)
	}

	ix, err := c.loadIndex(gameID)
	if err != nil {
		c.log.Warn("media cache index unreadable, rebuilding", "game_id", gameID, "error", err)
		ix = newIndex()
	}
	entry := IndexEntry{
		FilePath:    string(kind) + "/" + name,
		Description: description,
		GeneratedAt: c.clock.Now(),
	}
	ix.bucket(kind)[key] = entry
	if err := c.saveIndex(gameID, ix); err != nil {
		return nil, fmt.Errorf("media: update index: %w", err)
	}

	c.prune(gameID)
	return &entry, nil
}

// Clear removes a game's entire media directory. Missing directories are not
// an error.
func (c *Cache) Clear(gameID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.RemoveAll(c.gameDir(gameID)); err != nil {
		return fmt.Errorf("media: clear cache for %s: %w", gameID, err)
	}
	return nil
}

// loadIndex reads a game's metadata.json. A missing file yields an empty
// index.
func (c *Cache) loadIndex(gameID string) (*index, error) {
	data, err := os.ReadFile(filepath.Join(c.gameDir(gameID), indexFileName))
	if err != nil {
		if os.IsNotExist(err) {
			return newIndex(), nil
		}
		return nil, err
	}
	ix := newIndex()
	if err := json.Unmarshal(data, ix); err != nil {
		return nil, err
	}
	if ix.Images == nil {
		ix.Images = make(map[string]IndexEntry)
	}
	if ix.Music == nil {
		ix.Music = make(map[string]IndexEntry)
	}
	return ix, nil
}

// saveIndex writes a game's metadata.json with the layout every other JSON
// file in the save tree uses: UTF-8, LF, two-space indent.
func (c *Cache) saveIndex(gameID string, ix *index) error {
	if err := os.MkdirAll(c.gameDir(gameID), 0o755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(ix, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(c.gameDir(gameID), indexFileName), append(data, '\n'), 0o644)
}

// artifact is one on-disk file considered during pruning.
type artifact struct {
	path  string
	size  int64
	mtime time.Time
}

// prune enforces the TTL and the size cap over one game's artifacts. Index
// entries for deleted files stay behind; Get repairs them lazily. Prune
// failures are logged and swallowed, the cache must never fail a write over
// housekeeping.
func (c *Cache) prune(gameID string) {
	now := c.clock.Now()
	arts := c.collectArtifacts(gameID)

	var total int64
	kept := arts[:0]
	for _, a := range arts {
		if now.Sub(a.mtime) > c.ttl {
			if err := os.Remove(a.path); err != nil {
				c.log.Warn("media cache ttl prune failed", "path", a.path, "error", err)
			}
			continue
		}
		total += a.size
		kept = append(kept, a)
	}

	if total <= c.maxBytes {
		return
	}

	// Oldest first until under the cap.
	sort.Slice(kept, func(i, j int) bool { return kept[i].mtime.Before(kept[j].mtime) })
	for _, a := range kept {
		if total <= c.maxBytes {
			break
		}
		if err := os.Remove(a.path); err != nil {
			c.log.Warn("media cache size prune failed", "path", a.path, "error", err)
			continue
		}
		total -= a.size
	}
}

// collectArtifacts stats every artifact file in a game's media directory.
func (c *Cache) collectArtifacts(gameID string) []artifact {
	var arts []artifact
	for _, kind := range []Kind{KindImage, KindMusic} {
		dir := filepath.Join(c.gameDir(gameID), string(kind))
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, e := range entries {
			if e.IsDir() {
				continue
			}
			info, err := e.Info()
			if err != nil {
				continue
			}
			arts = append(arts, artifact{
				path:  filepath.Join(dir, e.Name()),
				size:  info.Size(),
				mtime: info.ModTime(),
			})
		}
	}
	return arts
}

// Size returns the total artifact bytes currently stored for a game.
func (c *Cache) Size(gameID string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	var total int64
	for _, a := range c.collectArtifacts(gameID) {
		total += a.size
	}
	return total
}
