// Package loader fetches and caches step source and remote_require
// modules from the step repository, mirroring cache metadata to disk so a
// second run in the same configdir can skip re-fetching unchanged files.
package loader

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/rolloutd/rolloutd/pkg/httpclient"
	"github.com/rolloutd/rolloutd/pkg/rolloutstatus"
)

// CacheEntry is one file's cache metadata, mirrored to cache.yaml.
type CacheEntry struct {
	Filename  string    `yaml:"filename"`
	Size      int64     `yaml:"size"`
	Checksum  string    `yaml:"checksum"`
	FetchedAt time.Time `yaml:"fetched_at"`
}

type cacheIndex struct {
	Entries map[string]CacheEntry `yaml:"entries"`
}

// Loader fetches step sources and remote_require modules through an HTTP
// client, caching both source bytes and loaded-module state in memory,
// with an on-disk mirror of cache metadata under cacheDir/cache.yaml.
type Loader struct {
	http     *httpclient.Client
	cacheDir string

	mu     sync.Mutex
	source map[string][]byte // filename -> bytes, in-memory cache
	loaded map[string]bool   // remote_require module name -> loaded
	index  cacheIndex
}

// New returns a Loader backed by client, persisting cache metadata under
// cacheDir.
func New(client *httpclient.Client, cacheDir string) *Loader {
	l := &Loader{
		http:     client,
		cacheDir: cacheDir,
		source:   make(map[string][]byte),
		loaded:   make(map[string]bool),
		index:    cacheIndex{Entries: make(map[string]CacheEntry)},
	}
	l.loadIndex()
	return l
}

func (l *Loader) indexPath() string {
	return filepath.Join(l.cacheDir, "cache.yaml")
}

func (l *Loader) loadIndex() {
	data, err := os.ReadFile(l.indexPath())
	if err != nil {
		return
	}
	var idx cacheIndex
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return
	}
	if idx.Entries != nil {
		l.index = idx
	}
}

func (l *Loader) saveIndex() error {
	if l.cacheDir == "" {
		return nil
	}
	if err := os.MkdirAll(l.cacheDir, 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(l.index)
	if err != nil {
		return err
	}
	tmp := l.indexPath() + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, l.indexPath())
}

// Step returns the cached source for filename, fetching "steps/<filename>"
// on a miss.
func (l *Loader) Step(ctx context.Context, filename string) ([]byte, error) {
	l.mu.Lock()
	if cached, ok := l.source[filename]; ok {
		l.mu.Unlock()
		return cached, nil
	}
	l.mu.Unlock()

	body, err := l.http.Fetch(ctx, "/steps/"+filename)
	if err != nil {
		return nil, rolloutstatus.NewHTTPError("fetch step "+filename, err)
	}

	l.remember(filename, body)
	return body, nil
}

// RemoteRequire fetches "<module>.star", remembering it as loaded so a
// second call in the same run is a no-op. If optional is true and the
// fetch fails, it returns (false, nil) instead of an error.
func (l *Loader) RemoteRequire(ctx context.Context, module string, optional bool) (string, bool, error) {
	l.mu.Lock()
	if l.loaded[module] {
		cached := l.source[module+".star"]
		l.mu.Unlock()
		return string(cached), true, nil
	}
	l.mu.Unlock()

	body, err := l.http.Fetch(ctx, "/"+module+".star")
	if err != nil {
		if optional {
			return "", false, nil
		}
		return "", false, rolloutstatus.NewHTTPError("fetch module "+module, err)
	}

	l.remember(module+".star", body)
	l.mu.Lock()
	l.loaded[module] = true
	l.mu.Unlock()
	return string(body), true, nil
}

func (l *Loader) remember(filename string, body []byte) {
	sum := sha256.Sum256(body)
	checksum := hex.EncodeToString(sum[:])

	l.mu.Lock()
	l.source[filename] = body
	l.index.Entries[filename] = CacheEntry{
		Filename:  filename,
		Size:      int64(len(body)),
		Checksum:  checksum,
		FetchedAt: time.Now(),
	}
	l.mu.Unlock()

	_ = l.saveIndex()
}

// Unchanged reports whether filename's cached checksum matches the given
// one, letting a caller decide whether a remote index entry's checksum
// means the local cache is already current.
func (l *Loader) Unchanged(filename, checksum string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	entry, ok := l.index.Entries[filename]
	return ok && entry.Checksum == checksum
}
