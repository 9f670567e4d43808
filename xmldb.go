/*
Package xmldb is an embedded XML document store. Documents are kept as
pre-order node tables in badger and changed by atomic batches of
structural updates.
*/
package xmldb

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/i5heu/ouroboros-xmldb/internal/batchfile"
	"github.com/i5heu/ouroboros-xmldb/internal/nodes"
	"github.com/i5heu/ouroboros-xmldb/internal/snapshot"
	"github.com/i5heu/ouroboros-xmldb/internal/table"
	"github.com/i5heu/ouroboros-xmldb/internal/update"
)

var (
	ErrNotStarted = errors.New("xmldb: database not started")
	ErrClosed     = errors.New("xmldb: database closed")
	ErrNotFound   = snapshot.ErrNotFound
)

// Format selects the parser used by Import.
type Format int

const (
	FormatXML Format = iota
	FormatHTML
)

func (f Format) String() string {
	if f == FormatHTML {
		return "html"
	}
	return "xml"
}

// Info describes a stored document.
type Info = snapshot.Info

// XMLDB is the database handle. Writers of one document are serialized by
// a per-document lock; readers of a document wait for a running batch.
type XMLDB struct {
	log    *slog.Logger
	config Config

	storeMu sync.RWMutex
	store   *snapshot.Store

	locksMu sync.Mutex
	locks   map[string]*sync.RWMutex

	started   atomic.Bool
	closed    atomic.Bool
	startOnce sync.Once
	closeOnce sync.Once
}

// New constructs a database handle. Call Start to open the store.
func New(conf Config) (*XMLDB, error) { // A
	if len(conf.Paths) == 0 {
		return nil, fmt.Errorf("at least one path must be provided in config")
	}
	if conf.Logger == nil {
		conf.Logger = defaultLogger()
	}
	if conf.SnapshotLogger == nil {
		conf.SnapshotLogger = snapshotLogger(conf.Logger)
	}
	return &XMLDB{
		log:    conf.Logger,
		config: conf,
		locks:  make(map[string]*sync.RWMutex),
	}, nil
}

// Start opens the snapshot store below Paths[0]. Only the first call has
// effect.
func (db *XMLDB) Start(ctx context.Context) error { // A
	var startErr error
	db.startOnce.Do(func() {
		if err := ctx.Err(); err != nil {
			startErr = err
			return
		}
		dir := filepath.Join(db.config.Paths[0], "snapshots")
		if err := os.MkdirAll(dir, 0o700); err != nil {
			startErr = fmt.Errorf("mkdir %s: %w", dir, err)
			return
		}

		store, err := snapshot.New(snapshot.StoreConfig{
			Paths:            []string{dir},
			MinimumFreeSpace: db.config.MinimumFreeGB,
			Compression:      db.config.Compression,
			Logger:           db.config.SnapshotLogger,
		})
		if err != nil {
			startErr = fmt.Errorf("init snapshot store: %w", err)
			return
		}

		db.storeMu.Lock()
		db.store = store
		db.storeMu.Unlock()
		db.started.Store(true)
		db.log.Info("xmldb started", "path", db.config.Paths[0])
	})
	return startErr
}

// Close releases the snapshot store. Close is idempotent.
func (db *XMLDB) Close(ctx context.Context) error { // A
	var closeErr error
	db.closeOnce.Do(func() {
		db.closed.Store(true)
		db.storeMu.Lock()
		store := db.store
		db.store = nil
		db.storeMu.Unlock()
		if store != nil {
			if err := store.Close(); err != nil {
				closeErr = fmt.Errorf("close snapshot store: %w", err)
			}
		}
		db.log.Info("xmldb closed")
	})
	return closeErr
}

// withStore runs fn while the store cannot be closed.
func (db *XMLDB) withStore(fn func(*snapshot.Store) error) error {
	if db.closed.Load() {
		return ErrClosed
	}
	if !db.started.Load() {
		return ErrNotStarted
	}
	db.storeMu.RLock()
	defer db.storeMu.RUnlock()
	if db.store == nil {
		return ErrClosed
	}
	return fn(db.store)
}

func (db *XMLDB) docLock(name string) *sync.RWMutex {
	db.locksMu.Lock()
	defer db.locksMu.Unlock()
	l, ok := db.locks[name]
	if !ok {
		l = &sync.RWMutex{}
		db.locks[name] = l
	}
	return l
}

// Import parses r and stores it as name, replacing an earlier document of
// that name.
func (db *XMLDB) Import(ctx context.Context, name string, r io.Reader, format Format) error {
	opts := table.Options{Name: name, KeepWhitespace: db.config.KeepWhitespace}
	var (
		doc *table.Table
		err error
	)
	switch format {
	case FormatHTML:
		doc, err = table.ParseHTML(r, opts)
	default:
		doc, err = table.Parse(r, opts)
	}
	if err != nil {
		return fmt.Errorf("import %s: %w", name, err)
	}

	return db.withStore(func(s *snapshot.Store) error {
		l := db.docLock(name)
		l.Lock()
		defer l.Unlock()
		if err := s.Save(ctx, name, doc); err != nil {
			return err
		}
		db.log.Info("document imported", "name", name, "format", format.String(), "nodes", doc.Size())
		return nil
	})
}

// Update runs one batch against the document name. fn fills the list,
// addressing nodes by their PRE in doc; doc must not be changed by fn.
// The document is saved only when every update applied, so a failed batch
// leaves the stored document untouched.
func (db *XMLDB) Update(ctx context.Context, name string, fn func(doc nodes.Source, l *update.List) error) (update.Stats, error) {
	var stats update.Stats
	err := db.withStore(func(s *snapshot.Store) error {
		l := db.docLock(name)
		l.Lock()
		defer l.Unlock()

		doc, err := s.Load(ctx, name)
		if err != nil {
			return err
		}

		list := update.NewList(update.WithLogger(db.log))
		if err := fn(doc, list); err != nil {
			return fmt.Errorf("build batch for %s: %w", name, err)
		}

		start := time.Now()
		if err := list.Apply(doc); err != nil {
			return err
		}
		if err := doc.Verify(); err != nil {
			return fmt.Errorf("batch left %s inconsistent: %w", name, err)
		}
		stats = list.Stats()
		if stats.Applied == 0 {
			return nil
		}

		if err := s.Save(ctx, name, doc); err != nil {
			return err
		}
		db.log.Info("document updated",
			"name", name,
			"applied", stats.Applied,
			"discarded", stats.Discarded,
			"shift", stats.Shift,
			"took", time.Since(start),
		)
		return nil
	})
	return stats, err
}

// ApplyBatch applies a parsed batch file to the document it names.
func (db *XMLDB) ApplyBatch(ctx context.Context, b *batchfile.Batch) (update.Stats, error) {
	return db.Update(ctx, b.Document, func(doc nodes.Source, l *update.List) error {
		return b.Build(doc, l)
	})
}

// Serialize writes the document name as XML.
func (db *XMLDB) Serialize(ctx context.Context, name string, w io.Writer) error {
	return db.withStore(func(s *snapshot.Store) error {
		l := db.docLock(name)
		l.RLock()
		defer l.RUnlock()

		doc, err := s.Load(ctx, name)
		if err != nil {
			return err
		}
		return doc.Serialize(w)
	})
}

// Names lists the stored documents.
func (db *XMLDB) Names(ctx context.Context) ([]string, error) {
	var names []string
	err := db.withStore(func(s *snapshot.Store) error {
		var err error
		names, err = s.Names(ctx)
		return err
	})
	return names, err
}

// Info returns the metadata of the document name.
func (db *XMLDB) Info(ctx context.Context, name string) (Info, error) {
	var info Info
	err := db.withStore(func(s *snapshot.Store) error {
		l := db.docLock(name)
		l.RLock()
		defer l.RUnlock()

		var err error
		info, err = s.Info(ctx, name)
		return err
	})
	return info, err
}

// Drop deletes the document name.
func (db *XMLDB) Drop(ctx context.Context, name string) error {
	return db.withStore(func(s *snapshot.Store) error {
		l := db.docLock(name)
		l.Lock()
		defer l.Unlock()

		if err := s.Delete(ctx, name); err != nil {
			return err
		}
		db.log.Info("document dropped", "name", name)
		return nil
	})
}
