// Package manifest persists the per-document lifecycle record.
//
// The manifest is the only authority on whether a document has been seen
// and whether it has been vectorized. All read-modify-write access goes
// through Store.Update, which serializes callers and saves only when the
// mutation succeeds.
package manifest

import (
	"errors"
	"sort"
	"time"
)

// ErrNoManifest is returned alongside an empty Manifest when nothing is
// persisted yet or the persisted document cannot be decoded.
var ErrNoManifest = errors.New("manifest not found")

// Record keeps the JSON keys of the on-disk format so existing manifests load.
type Record struct {
	ID          string    `json:"uuid"`
	LastUpdated time.Time `json:"last_updated"`
	Vectorized  bool      `json:"vectorized"`
	ChunkCount  int       `json:"no_of_chunks"`
}

// Manifest maps filename to its record.
type Manifest map[string]Record

// Pending returns the filenames not yet vectorized, sorted.
func (m Manifest) Pending() []string {
	var names []string
	for name, rec := range m {
		if !rec.Vectorized {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Filenames returns every key, sorted.
func (m Manifest) Filenames() []string {
	names := make([]string, 0, len(m))
	for name := range m {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (m Manifest) Clone() Manifest {
	out := make(Manifest, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Summary is a point-in-time count used by stats.
type Summary struct {
	Documents  int `json:"documents"`
	Vectorized int `json:"vectorized"`
	Pending    int `json:"pending"`
	Chunks     int `json:"chunks"`
}

func (m Manifest) Summary() Summary {
	s := Summary{Documents: len(m)}
	for _, rec := range m {
		if rec.Vectorized {
			s.Vectorized++
			s.Chunks += rec.ChunkCount
		} else {
			s.Pending++
		}
	}
	return s
}
