// Package snapshot persists node tables in badger. Every document is one
// compressed value next to a small metadata record, both written in the
// same transaction.
package snapshot

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/i5heu/ouroboros-xmldb/internal/metrics"
	"github.com/i5heu/ouroboros-xmldb/internal/table"
	"github.com/sirupsen/logrus"
	"google.golang.org/protobuf/encoding/protowire"
)

const (
	prefixDoc  = "doc:"
	prefixMeta = "meta:"
)

var (
	ErrNotFound    = errors.New("snapshot: document not found")
	ErrInvalidName = errors.New("snapshot: invalid document name")
)

type StoreConfig struct {
	Paths            []string // absolute path at the moment only first path is supported
	MinimumFreeSpace uint     // in GB
	Compression      string   // none, zstd or xz
	Logger           *logrus.Logger
}

type Store struct {
	config       StoreConfig
	log          *logrus.Logger
	badgerDB     *badger.DB
	readCounter  atomic.Uint64
	writeCounter atomic.Uint64
}

// Info describes a stored document.
type Info struct {
	Name      string
	Nodes     int
	Bytes     int
	UpdatedAt time.Time
}

func New(config StoreConfig) (*Store, error) {
	if config.Logger == nil {
		config.Logger = logrus.New()
	}

	err := config.checkConfig()
	if err != nil {
		return nil, fmt.Errorf("error checking config for snapshot store: %w", err)
	}

	opts := badger.DefaultOptions(config.Paths[0])
	opts.Logger = nil
	opts.ValueLogFileSize = 1024 * 1024 * 100 // Set max size of each value log file to 100MB
	opts.SyncWrites = true

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("error opening badger at %s: %w", config.Paths[0], err)
	}

	s := &Store{
		config:   config,
		log:      config.Logger,
		badgerDB: db,
	}
	if err := s.displayDiskUsage(config.Paths); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func checkName(name string) error {
	if name == "" || strings.ContainsAny(name, "\x00\n") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Save stores the table under name, replacing an earlier version.
func (s *Store) Save(ctx context.Context, name string, t *table.Table) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	value, err := compress(s.config.Compression, table.Marshal(t))
	if err != nil {
		return fmt.Errorf("error compressing %s: %w", name, err)
	}
	meta := encodeMeta(Info{Nodes: t.Size(), Bytes: len(value), UpdatedAt: time.Now()})

	s.writeCounter.Add(1)
	err = s.badgerDB.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(prefixDoc+name), value); err != nil {
			return err
		}
		return txn.Set([]byte(prefixMeta+name), meta)
	})
	if err != nil {
		s.log.WithFields(logrus.Fields{"document": name}).Errorf("Error writing snapshot: %v", err)
		return fmt.Errorf("error writing %s: %w", name, err)
	}
	metrics.SnapshotBytes.WithLabelValues("write").Add(float64(len(value)))

	s.log.WithFields(logrus.Fields{
		"document": name,
		"nodes":    t.Size(),
		"bytes":    len(value),
	}).Debug("Snapshot saved")
	return nil
}

// Load reads the latest version of name.
func (s *Store) Load(ctx context.Context, name string) (*table.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := checkName(name); err != nil {
		return nil, err
	}

	s.readCounter.Add(1)
	var value []byte
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixDoc + name))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("error reading %s: %w", name, err)
	}
	metrics.SnapshotBytes.WithLabelValues("read").Add(float64(len(value)))

	data, err := decompress(value)
	if err != nil {
		return nil, fmt.Errorf("error decompressing %s: %w", name, err)
	}
	t, err := table.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("error decoding %s: %w", name, err)
	}
	return t, nil
}

// Info returns the metadata of name.
func (s *Store) Info(ctx context.Context, name string) (Info, error) {
	if err := ctx.Err(); err != nil {
		return Info{}, err
	}
	if err := checkName(name); err != nil {
		return Info{}, err
	}

	s.readCounter.Add(1)
	var info Info
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(prefixMeta + name))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			info, err = decodeMeta(val)
			return err
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return Info{}, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return Info{}, fmt.Errorf("error reading metadata of %s: %w", name, err)
	}
	info.Name = name
	return info, nil
}

// Names lists the stored documents in lexical order.
func (s *Store) Names(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.readCounter.Add(1)
	var names []string
	err := s.badgerDB.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(prefixMeta)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			names = append(names, strings.TrimPrefix(string(it.Item().Key()), prefixMeta))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("error listing documents: %w", err)
	}
	sort.Strings(names)
	return names, nil
}

// Delete removes name. Deleting a missing document returns ErrNotFound.
func (s *Store) Delete(ctx context.Context, name string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkName(name); err != nil {
		return err
	}

	s.writeCounter.Add(1)
	err := s.badgerDB.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get([]byte(prefixMeta + name)); err != nil {
			return err
		}
		if err := txn.Delete([]byte(prefixDoc + name)); err != nil {
			return err
		}
		return txn.Delete([]byte(prefixMeta + name))
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return fmt.Errorf("error deleting %s: %w", name, err)
	}
	return nil
}

// Counters returns the number of read and write operations since start.
func (s *Store) Counters() (reads, writes uint64) {
	return s.readCounter.Load(), s.writeCounter.Load()
}

func (s *Store) Close() error {
	if err := s.Clean(); err != nil {
		s.log.Warnf("Error cleaning db before close: %v", err)
	}
	return s.badgerDB.Close()
}

func (s *Store) Clean() error {
	err := s.badgerDB.Sync()
	if err != nil {
		return fmt.Errorf("error syncing db: %w", err)
	}

	// flatten the db
	err = s.badgerDB.Flatten(runtime.NumCPU()) // The parameter is the number of concurrent compactions
	if err != nil {
		return fmt.Errorf("error flattening db: %w", err)
	}
	s.log.Debug("DB Flattened")

	err = s.badgerDB.RunValueLogGC(0.1)
	if err != nil && !errors.Is(err, badger.ErrNoRewrite) {
		return fmt.Errorf("error cleaning db: %w", err)
	}

	return nil
}

// meta layout: { uint64 nodes = 1; uint64 bytes = 2; int64 updatedAt = 3; }
func encodeMeta(info Info) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Nodes))
	b = protowire.AppendTag(b, 2, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.Bytes))
	b = protowire.AppendTag(b, 3, protowire.VarintType)
	b = protowire.AppendVarint(b, uint64(info.UpdatedAt.UnixNano()))
	return b
}

func decodeMeta(b []byte) (Info, error) {
	var info Info
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return Info{}, protowire.ParseError(n)
		}
		b = b[n:]
		if typ != protowire.VarintType {
			n = protowire.ConsumeFieldValue(num, typ, b)
			if n < 0 {
				return Info{}, protowire.ParseError(n)
			}
			b = b[n:]
			continue
		}
		v, n := protowire.ConsumeVarint(b)
		if n < 0 {
			return Info{}, protowire.ParseError(n)
		}
		b = b[n:]
		switch num {
		case 1:
			info.Nodes = int(v)
		case 2:
			info.Bytes = int(v)
		case 3:
			info.UpdatedAt = time.Unix(0, int64(v))
		}
	}
	return info, nil
}
