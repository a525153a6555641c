package cache

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"capacityeval/internal/logging"
)

// DefaultTTL is how long cached prices are trusted
const DefaultTTL = 7 * 24 * time.Hour

// Entry is a cached price
type Entry struct {
	Price     float64   `json:"price"`
	FetchedAt time.Time `json:"fetched_at"`
}

// PriceCache persists Price List API results between runs
type PriceCache struct {
	cacheFile  string
	ttl        time.Duration
	priceCache map[string]Entry
	cacheLock  sync.RWMutex
	saveLock   sync.Mutex
	now        func() time.Time
}

// NewPriceCache creates a price cache backed by cacheFile. An empty
// cacheFile keeps prices in memory only.
func NewPriceCache(cacheFile string, ttl time.Duration) (*PriceCache, error) {
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	if cacheFile != "" {
		if err := os.MkdirAll(filepath.Dir(cacheFile), 0755); err != nil {
			return nil, fmt.Errorf("failed to create cache directory: %w", err)
		}
	}

	pc := &PriceCache{
		cacheFile:  cacheFile,
		ttl:        ttl,
		priceCache: make(map[string]Entry),
		now:        time.Now,
	}

	if err := pc.Load(); err != nil {
		logging.Error("Failed to load price cache", err, map[string]interface{}{
			"cache_file": cacheFile,
		})
	}

	return pc, nil
}

// Get retrieves an unexpired price from the cache
func (pc *PriceCache) Get(key string) (float64, bool) {
	pc.cacheLock.RLock()
	defer pc.cacheLock.RUnlock()
	entry, ok := pc.priceCache[key]
	if !ok || pc.now().Sub(entry.FetchedAt) > pc.ttl {
		return 0, false
	}
	return entry.Price, true
}

// Set stores a price in the cache
func (pc *PriceCache) Set(key string, price float64) {
	pc.cacheLock.Lock()
	pc.priceCache[key] = Entry{Price: price, FetchedAt: pc.now()}
	pc.cacheLock.Unlock()
}

// Len returns the number of cached entries, expired ones included
func (pc *PriceCache) Len() int {
	pc.cacheLock.RLock()
	defer pc.cacheLock.RUnlock()
	return len(pc.priceCache)
}

// Load reads the cache from disk
func (pc *PriceCache) Load() error {
	if pc.cacheFile == "" {
		return nil
	}

	data, err := os.ReadFile(pc.cacheFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read cache file: %w", err)
	}

	var cache map[string]Entry
	if err := json.Unmarshal(data, &cache); err != nil {
		return fmt.Errorf("failed to parse cache data: %w", err)
	}
	if cache == nil {
		cache = make(map[string]Entry)
	}

	pc.cacheLock.Lock()
	pc.priceCache = cache
	pc.cacheLock.Unlock()

	return nil
}

// Save writes the cache to disk
func (pc *PriceCache) Save() error {
	if pc.cacheFile == "" {
		return nil
	}

	pc.saveLock.Lock()
	defer pc.saveLock.Unlock()

	pc.cacheLock.RLock()
	cache := make(map[string]Entry, len(pc.priceCache))
	for k, v := range pc.priceCache {
		cache[k] = v
	}
	pc.cacheLock.RUnlock()

	data, err := json.MarshalIndent(cache, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal cache data: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(pc.cacheFile), 0755); err != nil {
		return fmt.Errorf("failed to create cache directory: %w", err)
	}

	tempFile := pc.cacheFile + ".tmp"
	if err := os.WriteFile(tempFile, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp cache file: %w", err)
	}

	if err := os.Rename(tempFile, pc.cacheFile); err != nil {
		os.Remove(tempFile)
		return fmt.Errorf("failed to rename temp cache file: %w", err)
	}

	logging.Debug("Cache saved successfully", map[string]interface{}{
		"cache_file": pc.cacheFile,
		"entries":    len(cache),
	})

	return nil
}
