package store

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/dkratky/casecoder/internal/metrics"
	"github.com/dkratky/casecoder/internal/models"
)

// Dataset is the decoded contents of a store file: all case records plus the
// optional finalization metadata entry.
type Dataset struct {
	Cases        map[string]*models.CaseRecord
	Finalization *models.FinalizationOutput
}

// IDs returns all case ids in sorted order. Executors iterate this order so
// a resumed run walks the work list deterministically.
func (d *Dataset) IDs() []string {
	ids := make([]string, 0, len(d.Cases))
	for id := range d.Cases {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (d *Dataset) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return ErrNotObject
	}

	d.Cases = make(map[string]*models.CaseRecord, len(raw))
	for id, val := range raw {
		if id == models.MetadataKey {
			var out models.FinalizationOutput
			if err := json.Unmarshal(val, &out); err != nil {
				return fmt.Errorf("decode %s entry: %w", models.MetadataKey, err)
			}
			d.Finalization = &out
			continue
		}
		var rec models.CaseRecord
		if err := json.Unmarshal(val, &rec); err != nil {
			return fmt.Errorf("decode case %q: %w", id, err)
		}
		d.Cases[id] = &rec
	}
	return nil
}

func (d Dataset) MarshalJSON() ([]byte, error) {
	out := make(map[string]json.RawMessage, len(d.Cases)+1)
	for id, rec := range d.Cases {
		b, err := json.Marshal(rec)
		if err != nil {
			return nil, fmt.Errorf("encode case %q: %w", id, err)
		}
		out[id] = b
	}
	if d.Finalization != nil {
		b, err := json.Marshal(d.Finalization)
		if err != nil {
			return nil, fmt.Errorf("encode %s entry: %w", models.MetadataKey, err)
		}
		out[models.MetadataKey] = b
	}
	return json.Marshal(out)
}

// Store reads and rewrites one case store file. Every mutation pays a full
// read-decode-encode-write cycle; that is deliberate, the annotator call per
// case dominates by orders of magnitude. The file itself carries no lock:
// single-flight per phase kind is enforced by the run registry, and two
// different phase kinds writing the same file can interleave a
// read-modify-write (last writer wins). See DESIGN.md.
type Store struct {
	path    string
	metrics *metrics.Collector
}

// New creates a store bound to path. The metrics collector may be nil.
func New(path string, mc *metrics.Collector) *Store {
	return &Store{path: path, metrics: mc}
}

// Path returns the backing file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and decodes the whole store file.
func (s *Store) Load() (*Dataset, error) {
	start := time.Now()
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, fmt.Errorf("read store %s: %w", s.path, err)
	}

	var d Dataset
	if err := json.Unmarshal(data, &d); err != nil {
		return nil, fmt.Errorf("decode store %s: %w", s.path, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpStoreRead, time.Since(start))
	}
	return &d, nil
}

// Update runs a read-modify-write cycle: load the whole store, apply fn, and
// write the result back atomically (temp file + rename in the same
// directory). Readers never observe a partially written file.
func (s *Store) Update(fn func(*Dataset) error) error {
	d, err := s.Load()
	if err != nil {
		return err
	}
	if err := fn(d); err != nil {
		return err
	}
	return s.write(d)
}

// MutateCase applies fn to a single case record and persists the store.
// Returns ErrCaseNotFound when id is absent and ErrReservedID when id names
// the metadata entry.
func (s *Store) MutateCase(id string, fn func(*models.CaseRecord) error) error {
	if id == models.MetadataKey {
		return fmt.Errorf("%w: %s", ErrReservedID, id)
	}
	return s.Update(func(d *Dataset) error {
		rec, ok := d.Cases[id]
		if !ok {
			return fmt.Errorf("%w: %s", ErrCaseNotFound, id)
		}
		return fn(rec)
	})
}

// ClearCaseField removes one annotation field from a case, the operation an
// operator uses to send a case back through a phase.
func (s *Store) ClearCaseField(id, field string) error {
	return s.MutateCase(id, func(rec *models.CaseRecord) error {
		return rec.Clear(field)
	})
}

func (s *Store) write(d *Dataset) error {
	start := time.Now()
	data, err := json.MarshalIndent(d, "", "  ")
	if err != nil {
		return fmt.Errorf("encode store %s: %w", s.path, err)
	}
	if err := writeFileAtomic(s.path, data); err != nil {
		return fmt.Errorf("write store %s: %w", s.path, err)
	}
	if s.metrics != nil {
		s.metrics.RecordTiming(metrics.OpStoreWrite, time.Since(start))
	}
	return nil
}

// writeFileAtomic writes data to a temp file in the target directory and
// renames it over path. Rename within one directory is atomic on POSIX
// filesystems.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp_store_*.json")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer func() { _ = os.Remove(tmpName) }()

	if err := tmp.Chmod(0o644); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return err
	}
	if _, err := tmp.Write([]byte("\n")); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpName, path)
}
