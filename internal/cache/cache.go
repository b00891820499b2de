package cache

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/codebuildervaibhav/media-transcription/internal/types"
)

// Config configures the transcription cache.
type Config struct {
	MaxEntries  int
	TTL         time.Duration
	DiskDir     string // disk tier location, used only when DiskEnabled
	DiskEnabled bool
}

// Stats reports cache effectiveness counters.
type Stats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	Size    int     `json:"size"`
	HitRate float64 `json:"hit_rate"`
}

type entry struct {
	key      string
	payload  *types.TranscriptionResponse
	cachedAt time.Time
}

// Cache is a thread-safe LRU+TTL cache for transcription responses with
// an optional disk tier. One instance is shared process-wide and
// injected into its consumers.
type Cache struct {
	mu     sync.Mutex
	cfg    Config
	lru    *list.List // front = most recent
	items  map[string]*list.Element
	hits   int64
	misses int64
	now    func() time.Time
	log    zerolog.Logger
}

// New creates a cache. When the disk tier is enabled its directory is
// created eagerly.
func New(cfg Config, log zerolog.Logger) *Cache {
	if cfg.MaxEntries == 0 {
		cfg.MaxEntries = 100
	}
	if cfg.TTL == 0 {
		cfg.TTL = time.Hour
	}
	c := &Cache{
		cfg:   cfg,
		lru:   list.New(),
		items: make(map[string]*list.Element),
		now:   time.Now,
		log:   log.With().Str("component", "cache").Logger(),
	}
	if cfg.DiskEnabled {
		if err := os.MkdirAll(cfg.DiskDir, 0755); err != nil {
			c.log.Warn().Str("dir", cfg.DiskDir).Err(err).Msg("Disk cache unavailable")
			c.cfg.DiskEnabled = false
		}
	}
	return c
}

// GenerateKey derives the cache key from the file content digest plus
// model and language. File paths never participate: identical bytes with
// identical parameters always map to the same key.
func GenerateKey(filePath, model, language string) (string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", fmt.Errorf("open for hashing: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash file: %w", err)
	}
	contentDigest := hex.EncodeToString(h.Sum(nil))

	outer := sha256.Sum256([]byte(contentDigest + "_" + model + "_" + language))
	return hex.EncodeToString(outer[:]), nil
}

// Get returns the cached response for key, or nil on miss. Expired
// entries are removed and count as misses. On a memory miss the disk
// tier is consulted and hits are promoted back into memory.
func (c *Cache) Get(key string) *types.TranscriptionResponse {
	c.mu.Lock()

	if el, ok := c.items[key]; ok {
		e := el.Value.(*entry)
		if c.now().Sub(e.cachedAt) > c.cfg.TTL {
			c.removeLocked(el)
			c.misses++
			c.mu.Unlock()
			return nil
		}
		c.lru.MoveToFront(el)
		c.hits++
		c.mu.Unlock()
		return e.payload
	}

	diskEnabled := c.cfg.DiskEnabled
	c.mu.Unlock()

	if diskEnabled {
		if payload := c.loadFromDisk(key); payload != nil {
			c.mu.Lock()
			c.insertLocked(key, payload)
			c.hits++
			c.mu.Unlock()
			return payload
		}
	}

	c.mu.Lock()
	c.misses++
	c.mu.Unlock()
	return nil
}

// Set stores a response atomically: the whole payload is cached or
// nothing is.
func (c *Cache) Set(key string, payload *types.TranscriptionResponse) {
	c.mu.Lock()
	c.insertLocked(key, payload)
	c.mu.Unlock()

	if c.cfg.DiskEnabled {
		c.saveToDisk(key, payload)
	}
}

func (c *Cache) insertLocked(key string, payload *types.TranscriptionResponse) {
	if el, ok := c.items[key]; ok {
		c.removeLocked(el)
	}
	el := c.lru.PushFront(&entry{key: key, payload: payload, cachedAt: c.now()})
	c.items[key] = el

	for c.lru.Len() > c.cfg.MaxEntries {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		evictedKey := oldest.Value.(*entry).key
		if len(evictedKey) > 16 {
			evictedKey = evictedKey[:16]
		}
		c.log.Debug().Str("key", evictedKey).Msg("LRU eviction")
		c.removeLocked(oldest)
	}
}

func (c *Cache) removeLocked(el *list.Element) {
	e := el.Value.(*entry)
	c.lru.Remove(el)
	delete(c.items, e.key)
}

// Clear empties both tiers and resets counters.
func (c *Cache) Clear() {
	c.mu.Lock()
	c.lru.Init()
	c.items = make(map[string]*list.Element)
	c.hits = 0
	c.misses = 0
	c.mu.Unlock()

	if c.cfg.DiskEnabled {
		files, _ := filepath.Glob(filepath.Join(c.cfg.DiskDir, "*.json"))
		for _, f := range files {
			os.Remove(f)
		}
	}
	c.log.Info().Msg("Cache cleared")
}

// Stats returns current counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	total := c.hits + c.misses
	var rate float64
	if total > 0 {
		rate = float64(c.hits) / float64(total) * 100
	}
	return Stats{
		Hits:    c.hits,
		Misses:  c.misses,
		Size:    c.lru.Len(),
		HitRate: rate,
	}
}

func (c *Cache) diskPath(key string) string {
	return filepath.Join(c.cfg.DiskDir, key+".json")
}

func (c *Cache) saveToDisk(key string, payload *types.TranscriptionResponse) {
	data, err := json.Marshal(payload)
	if err != nil {
		c.log.Warn().Err(err).Msg("Failed to marshal cache entry")
		return
	}
	if err := os.WriteFile(c.diskPath(key), data, 0644); err != nil {
		c.log.Warn().Err(err).Msg("Failed to persist cache entry")
	}
}

// loadFromDisk returns the disk-tier entry unless its file mtime exceeds
// the TTL, in which case the file is removed.
func (c *Cache) loadFromDisk(key string) *types.TranscriptionResponse {
	path := c.diskPath(key)
	info, err := os.Stat(path)
	if err != nil {
		return nil
	}
	if c.now().Sub(info.ModTime()) > c.cfg.TTL {
		os.Remove(path)
		return nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var payload types.TranscriptionResponse
	if err := json.Unmarshal(data, &payload); err != nil {
		c.log.Warn().Str("path", path).Err(err).Msg("Corrupt disk cache entry")
		os.Remove(path)
		return nil
	}
	return &payload
}
