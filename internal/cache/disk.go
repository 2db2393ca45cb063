// Package cache holds the result caches consulted before the Gaia archive
// (disk and Redis) and the in-memory cache of propagated animation frames.
package cache

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/star/gaiaviz/gaia"
	"github.com/star/gaiaviz/internal/metrics"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when no cached dataset exists.
var ErrNotFound = errors.New("no cache files found")

var validKey = regexp.MustCompile(`^[A-Za-z0-9-]+$`)

// Disk stores query results as timestamped JSON files, one series per key.
type Disk struct {
	dir      string
	maxFiles int
	ttl      time.Duration
	now      func() time.Time
}

// NewDisk creates a Disk cache in dir that keeps at most maxFiles files per
// key. Entries older than ttl are ignored by Get; a zero ttl never expires.
func NewDisk(dir string, maxFiles int, ttl time.Duration) *Disk {
	if maxFiles <= 0 {
		maxFiles = 5
	}
	return &Disk{
		dir:      dir,
		maxFiles: maxFiles,
		ttl:      ttl,
		now:      time.Now,
	}
}

// Dir returns the cache directory.
func (d *Disk) Dir() string {
	return d.dir
}

// Get implements gaia.Cache.
func (d *Disk) Get(_ context.Context, key string) (*gaia.Dataset, bool, error) {
	ds, ts, err := d.LoadLatest(key)
	if errors.Is(err, ErrNotFound) {
		metrics.IncResultCache("disk", "miss")
		return nil, false, nil
	}
	if err != nil {
		metrics.IncResultCache("disk", "error")
		return nil, false, err
	}
	if d.ttl > 0 && d.now().Sub(ts) > d.ttl {
		metrics.IncResultCache("disk", "expired")
		return nil, false, nil
	}
	metrics.IncResultCache("disk", "hit")
	return ds, true, nil
}

// Put implements gaia.Cache.
func (d *Disk) Put(_ context.Context, key string, ds *gaia.Dataset) error {
	ts := ds.FetchedAt
	if ts.IsZero() {
		ts = d.now()
	}
	return d.Write(key, ds, ts)
}

// Write saves ds to a file stamped with ts and prunes old files for key
// beyond maxFiles.
func (d *Disk) Write(key string, ds *gaia.Dataset, ts time.Time) error {
	if !validKey.MatchString(key) {
		return fmt.Errorf("invalid cache key %q", key)
	}
	if err := os.MkdirAll(d.dir, 0755); err != nil {
		return fmt.Errorf("creating cache dir: %w", err)
	}

	data, err := jsonAPI.Marshal(ds)
	if err != nil {
		return fmt.Errorf("encoding dataset: %w", err)
	}

	// Write then rename so readers never see a partial file.
	name := fmt.Sprintf("%s_%d.json", key, ts.Unix())
	tmp, err := os.CreateTemp(d.dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("writing cache file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}
	if err := os.Rename(tmp.Name(), filepath.Join(d.dir, name)); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("writing cache file: %w", err)
	}

	return d.prune(key)
}

// LoadLatest reads the newest file for key by the timestamp in its name.
func (d *Disk) LoadLatest(key string) (*gaia.Dataset, time.Time, error) {
	files, err := d.listFiles(key)
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNotFound
	}
	latest := files[len(files)-1]
	ds, err := d.read(latest.name)
	return ds, latest.ts, err
}

// LoadNewest reads the most recent file across all keys.
func (d *Disk) LoadNewest() (*gaia.Dataset, time.Time, error) {
	files, err := d.listFiles("")
	if err != nil {
		return nil, time.Time{}, err
	}
	if len(files) == 0 {
		return nil, time.Time{}, ErrNotFound
	}
	latest := files[len(files)-1]
	ds, err := d.read(latest.name)
	return ds, latest.ts, err
}

func (d *Disk) read(name string) (*gaia.Dataset, error) {
	data, err := os.ReadFile(filepath.Join(d.dir, name))
	if err != nil {
		return nil, fmt.Errorf("reading cache file: %w", err)
	}
	var ds gaia.Dataset
	if err := jsonAPI.Unmarshal(data, &ds); err != nil {
		return nil, fmt.Errorf("decoding cache file %s: %w", name, err)
	}
	return &ds, nil
}

type cacheFile struct {
	name string
	key  string
	ts   time.Time
}

// listFiles returns cache files oldest first. An empty key lists every key.
func (d *Disk) listFiles(key string) ([]cacheFile, error) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("listing cache dir: %w", err)
	}

	var files []cacheFile
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		base, ok := strings.CutSuffix(name, ".json")
		if !ok {
			continue
		}
		i := strings.LastIndexByte(base, '_')
		if i <= 0 {
			continue
		}
		fileKey := base[:i]
		if key != "" && fileKey != key {
			continue
		}
		unix, err := strconv.ParseInt(base[i+1:], 10, 64)
		if err != nil {
			continue
		}
		files = append(files, cacheFile{name: name, key: fileKey, ts: time.Unix(unix, 0)})
	}

	sort.Slice(files, func(i, j int) bool {
		if files[i].ts.Equal(files[j].ts) {
			return files[i].name < files[j].name
		}
		return files[i].ts.Before(files[j].ts)
	})

	return files, nil
}

func (d *Disk) prune(key string) error {
	files, err := d.listFiles(key)
	if err != nil {
		return err
	}
	if len(files) <= d.maxFiles {
		return nil
	}

	for _, f := range files[:len(files)-d.maxFiles] {
		if err := os.Remove(filepath.Join(d.dir, f.name)); err != nil {
			return fmt.Errorf("pruning cache file %s: %w", f.name, err)
		}
	}
	return nil
}
