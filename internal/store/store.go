// Package store is the durable run archive: finished runs are persisted to
// badger as metadata, the full operation history, and the performance
// report, keyed by run ID. The archive is append-once; runs are written by
// the harness and read back by the CLI and the results server.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"chaos-harness/internal/config"
	"chaos-harness/internal/history"
	"chaos-harness/internal/perf"
)

// ErrRunNotFound reports a run ID the archive does not hold.
var ErrRunNotFound = errors.New("run not found")

const (
	metaPrefix = "meta:"
	histPrefix = "hist:"
	perfPrefix = "perf:"
)

// RunMeta summarizes one archived run.
type RunMeta struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Start    time.Time     `json:"start"`
	Duration time.Duration `json:"duration"`
	Ops      int           `json:"ops"`
	Error    string        `json:"error,omitempty"`
	SavedAt  time.Time     `json:"saved_at"`
}

// Archive persists runs in a badger database.
type Archive struct {
	db *badger.DB
}

// Open opens (or creates) the archive described by cfg. In-memory mode
// keeps everything in RAM and needs no data path.
func Open(cfg *config.StoreConfig) (*Archive, error) {
	opts := badger.DefaultOptions(cfg.DataPath)
	if cfg.InMemory {
		opts = opts.WithInMemory(true)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	opts = opts.WithLogger(nil)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open archive database: %w", err)
	}
	return &Archive{db: db}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// SaveRun archives one run atomically: metadata, every operation, and the
// report (when non-nil). A missing meta.ID is assigned a fresh UUID;
// SavedAt is always stamped here. The stored metadata is returned.
func (a *Archive) SaveRun(meta RunMeta, ops []history.Op, report *perf.Report) (RunMeta, error) {
	if meta.ID == "" {
		meta.ID = uuid.NewString()
	}
	meta.SavedAt = time.Now().UTC()
	meta.Ops = len(ops)

	rawMeta, err := json.Marshal(meta)
	if err != nil {
		return RunMeta{}, fmt.Errorf("marshal run metadata: %w", err)
	}
	rawOps, err := json.Marshal(ops)
	if err != nil {
		return RunMeta{}, fmt.Errorf("marshal history: %w", err)
	}
	var rawReport []byte
	if report != nil {
		if rawReport, err = json.Marshal(report); err != nil {
			return RunMeta{}, fmt.Errorf("marshal report: %w", err)
		}
	}

	err = a.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(metaPrefix+meta.ID), rawMeta); err != nil {
			return err
		}
		if err := txn.Set([]byte(histPrefix+meta.ID), rawOps); err != nil {
			return err
		}
		if rawReport != nil {
			return txn.Set([]byte(perfPrefix+meta.ID), rawReport)
		}
		return nil
	})
	if err != nil {
		return RunMeta{}, fmt.Errorf("archive run %s: %w", meta.ID, err)
	}
	return meta, nil
}

// ListRuns returns metadata for every archived run, newest first.
func (a *Archive) ListRuns() ([]RunMeta, error) {
	var runs []RunMeta
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchSize = 10
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(metaPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw, err := it.Item().ValueCopy(nil)
			if err != nil {
				return err
			}
			var m RunMeta
			if err := json.Unmarshal(raw, &m); err != nil {
				return fmt.Errorf("corrupt metadata at %s: %w", it.Item().Key(), err)
			}
			runs = append(runs, m)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool {
		if !runs[i].SavedAt.Equal(runs[j].SavedAt) {
			return runs[i].SavedAt.After(runs[j].SavedAt)
		}
		return runs[i].ID < runs[j].ID
	})
	return runs, nil
}

// GetRun returns one run's metadata.
func (a *Archive) GetRun(id string) (RunMeta, error) {
	var m RunMeta
	if err := a.get(metaPrefix+id, &m); err != nil {
		return RunMeta{}, err
	}
	return m, nil
}

// History returns one run's full operation stream in recorded order.
func (a *Archive) History(id string) ([]history.Op, error) {
	var ops []history.Op
	if err := a.get(histPrefix+id, &ops); err != nil {
		return nil, err
	}
	return ops, nil
}

// Report returns one run's archived analysis. ErrRunNotFound covers both
// an unknown run and a run archived without a report.
func (a *Archive) Report(id string) (*perf.Report, error) {
	var r perf.Report
	if err := a.get(perfPrefix+id, &r); err != nil {
		return nil, err
	}
	return &r, nil
}

// DeleteRun removes a run and everything stored under it.
func (a *Archive) DeleteRun(id string) error {
	err := a.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(metaPrefix + id)); err != nil {
			return err
		}
		for _, prefix := range []string{metaPrefix, histPrefix, perfPrefix} {
			if err := txn.Delete([]byte(prefix + id)); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRunNotFound
	}
	return err
}

// get reads and unmarshals one key into v.
func (a *Archive) get(key string, v any) error {
	err := a.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		raw, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		return json.Unmarshal(raw, v)
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return ErrRunNotFound
	}
	return err
}
