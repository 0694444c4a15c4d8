// Package cacheindex maintains the in-memory (and JSON-persisted) directory
// of which (symbol, dataset_key, day) shards exist on disk, so DataLoader
// can decide what is already cached without touching the filesystem on the
// hot path.
package cacheindex

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"
)

const schemaVersion = 1

const indexFileName = "cache_index.json"

// datasetEntry is the per-(symbol, dataset_key) catalog entry.
type datasetEntry struct {
	CachedDays  []string  `json:"cached_days"` // YYYY-MM-DD, sorted
	LastUpdated time.Time `json:"last_updated"`
}

// onDiskIndex is the cache_index.json wire schema.
type onDiskIndex struct {
	Version int                                `json:"version"`
	Symbols map[string]map[string]datasetEntry `json:"symbols"`
}

// Index is a thread-safe directory of cached days per (symbol, dataset_key).
// Mutations are serialized by an internal lock; Coverage returns a
// snapshot safe to use after the lock is released.
type Index struct {
	mu   sync.Mutex
	root string
	data map[string]map[string]*datasetEntry
}

// Open loads the index from <root>/cache_index.json if present, otherwise
// returns an empty index (call RebuildFromFilesystem to populate it from an
// existing cache tree).
func Open(root string) (*Index, error) {
	idx := &Index{
		root: root,
		data: make(map[string]map[string]*datasetEntry),
	}

	path := filepath.Join(root, indexFileName)
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return idx, nil
		}
		return nil, fmt.Errorf("cacheindex: read %q: %w", path, err)
	}

	var onDisk onDiskIndex
	if err := json.Unmarshal(raw, &onDisk); err != nil {
		// IndexCorrupt: caller should fall back to RebuildFromFilesystem.
		return idx, fmt.Errorf("cacheindex: corrupt index %q: %w", path, err)
	}
	for symbol, datasets := range onDisk.Symbols {
		idx.data[symbol] = make(map[string]*datasetEntry, len(datasets))
		for key, entry := range datasets {
			e := entry
			slices.Sort(e.CachedDays)
			idx.data[symbol][key] = &e
		}
	}
	return idx, nil
}

// Add records day as cached for (symbol, datasetKey) and persists the
// index.
func (idx *Index) Add(symbol, datasetKey, day string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	entry := idx.entryLocked(symbol, datasetKey)
	if !slices.Contains(entry.CachedDays, day) {
		entry.CachedDays = append(entry.CachedDays, day)
		slices.Sort(entry.CachedDays)
	}
	entry.LastUpdated = time.Now().UTC()
	return idx.saveLocked()
}

func (idx *Index) entryLocked(symbol, datasetKey string) *datasetEntry {
	datasets, ok := idx.data[symbol]
	if !ok {
		datasets = make(map[string]*datasetEntry)
		idx.data[symbol] = datasets
	}
	entry, ok := datasets[datasetKey]
	if !ok {
		entry = &datasetEntry{}
		datasets[datasetKey] = entry
	}
	return entry
}

// Contains reports whether day is marked cached for (symbol, datasetKey).
func (idx *Index) Contains(symbol, datasetKey, day string) bool {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	datasets, ok := idx.data[symbol]
	if !ok {
		return false
	}
	entry, ok := datasets[datasetKey]
	if !ok {
		return false
	}
	return slices.Contains(entry.CachedDays, day)
}

// Coverage reports which days in [start, end] (inclusive, YYYY-MM-DD
// granularity) are cached and which are missing. The returned slices are a
// snapshot independent of further index mutation.
func (idx *Index) Coverage(symbol, datasetKey string, start, end time.Time) (cached, missing []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var cachedSet map[string]bool
	if datasets, ok := idx.data[symbol]; ok {
		if entry, ok := datasets[datasetKey]; ok {
			cachedSet = make(map[string]bool, len(entry.CachedDays))
			for _, d := range entry.CachedDays {
				cachedSet[d] = true
			}
		}
	}

	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		day := d.Format("2006-01-02")
		if cachedSet[day] {
			cached = append(cached, day)
		} else {
			missing = append(missing, day)
		}
	}
	return cached, missing
}

// Invalidate removes day from every (symbol, dataset_key) entry that lists
// it, used after a corrupt-shard or staleness detection forces a refetch.
func (idx *Index) Invalidate(day string) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, datasets := range idx.data {
		for _, entry := range datasets {
			entry.CachedDays = slices.DeleteFunc(entry.CachedDays, func(d string) bool { return d == day })
		}
	}
	return idx.saveLocked()
}

// RebuildFromFilesystem discards the in-memory index and rescans the cache
// root's <YYYY>/<MM>/<DD>/<dataset_key>/<symbol>.* tree, used when the
// persisted index is missing or corrupt.
func (idx *Index) RebuildFromFilesystem() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	fresh := make(map[string]map[string]*datasetEntry)

	years, err := os.ReadDir(idx.root)
	if err != nil {
		if os.IsNotExist(err) {
			idx.data = fresh
			return idx.saveLocked()
		}
		return fmt.Errorf("cacheindex: rebuild: read root %q: %w", idx.root, err)
	}

	for _, y := range years {
		if !y.IsDir() {
			continue
		}
		months, err := os.ReadDir(filepath.Join(idx.root, y.Name()))
		if err != nil {
			continue
		}
		for _, m := range months {
			if !m.IsDir() {
				continue
			}
			days, err := os.ReadDir(filepath.Join(idx.root, y.Name(), m.Name()))
			if err != nil {
				continue
			}
			for _, d := range days {
				if !d.IsDir() {
					continue
				}
				dayStr := fmt.Sprintf("%s-%s-%s", y.Name(), m.Name(), d.Name())
				datasetDirs, err := os.ReadDir(filepath.Join(idx.root, y.Name(), m.Name(), d.Name()))
				if err != nil {
					continue
				}
				for _, ds := range datasetDirs {
					if !ds.IsDir() || ds.Name() == "symbol_info" {
						continue
					}
					shardFiles, err := os.ReadDir(filepath.Join(idx.root, y.Name(), m.Name(), d.Name(), ds.Name()))
					if err != nil {
						continue
					}
					for _, f := range shardFiles {
						symbol := symbolFromFilename(f.Name())
						if symbol == "" {
							continue
						}
						if fresh[symbol] == nil {
							fresh[symbol] = make(map[string]*datasetEntry)
						}
						entry, ok := fresh[symbol][ds.Name()]
						if !ok {
							entry = &datasetEntry{}
							fresh[symbol][ds.Name()] = entry
						}
						entry.CachedDays = append(entry.CachedDays, dayStr)
						entry.LastUpdated = time.Now().UTC()
					}
				}
			}
		}
	}

	for _, datasets := range fresh {
		for _, entry := range datasets {
			slices.Sort(entry.CachedDays)
		}
	}

	idx.data = fresh
	return idx.saveLocked()
}

// symbolFromFilename extracts the symbol from a shard filename such as
// "EURUSD.jsonl.gz" or "EURUSD.json" — the leading dot-separated component.
func symbolFromFilename(name string) string {
	idx := strings.IndexByte(name, '.')
	if idx <= 0 {
		return ""
	}
	return name[:idx]
}

func (idx *Index) saveLocked() error {
	onDisk := onDiskIndex{Version: schemaVersion, Symbols: make(map[string]map[string]datasetEntry)}
	for symbol, datasets := range idx.data {
		onDisk.Symbols[symbol] = make(map[string]datasetEntry, len(datasets))
		for key, entry := range datasets {
			onDisk.Symbols[symbol][key] = *entry
		}
	}

	raw, err := json.MarshalIndent(onDisk, "", "  ")
	if err != nil {
		return fmt.Errorf("cacheindex: marshal: %w", err)
	}

	if err := os.MkdirAll(idx.root, 0o755); err != nil {
		return fmt.Errorf("cacheindex: mkdir %q: %w", idx.root, err)
	}

	path := filepath.Join(idx.root, indexFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("cacheindex: write temp %q: %w", tmp, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("cacheindex: rename %q -> %q: %w", tmp, path, err)
	}
	return nil
}
