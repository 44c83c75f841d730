package snapshot

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/AdguardTeam/golibs/errors"
	bbolt "go.etcd.io/bbolt"
	berrors "go.etcd.io/bbolt/errors"

	"github.com/haukened/rr-adblock/internal/adblock/common/clock"
	"github.com/haukened/rr-adblock/internal/adblock/common/log"
	"github.com/haukened/rr-adblock/internal/adblock/repos/ruleset"
)

// FileName is the database file kept in the cache directory.
const FileName = "engine.db"

const DefaultTTL = 24 * time.Hour

var (
	bucketSnapshot = []byte("snapshot")
	bucketMeta     = []byte("meta")

	keyRules   = []byte("rules")
	keyVersion = []byte("version")
	keySaved   = []byte("saved")
)

const (
	ErrNoSnapshot errors.Error = "snapshot: none saved"
	ErrStale      errors.Error = "snapshot: stale"
)

// Options configures a Store.
type Options struct {
	Dir    string
	TTL    time.Duration
	Clock  clock.Clock
	Logger log.Logger
	// RuleSet is used to rebuild the indexes of loaded snapshots.
	RuleSet ruleset.Options
}

// Store keeps the latest rule set snapshot in a bbolt database.
type Store struct {
	db     *bbolt.DB
	path   string
	ttl    time.Duration
	clock  clock.Clock
	logger log.Logger
	rsOpts ruleset.Options
}

// Open opens or creates the database in opts.Dir. A file that bbolt cannot
// open is renamed with a ".corrupt" suffix and a new database is created. A
// lock held by another process is reported as an error.
func Open(opts Options) (*Store, error) {
	if opts.Dir == "" {
		return nil, fmt.Errorf("snapshot: dir is required")
	}
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.Clock == nil {
		opts.Clock = clock.RealClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.NewNoopLogger()
	}
	if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("snapshot: creating dir: %w", err)
	}

	path := filepath.Join(opts.Dir, FileName)
	db, err := openDB(path)
	if err != nil && !errors.Is(err, berrors.ErrTimeout) {
		aside := fmt.Sprintf("%s.corrupt-%d", path, opts.Clock.Now().Unix())
		opts.Logger.Warn(map[string]any{"path": path, "moved_to": aside, "error": err}, "snapshot_db_moved_aside")
		if rerr := os.Rename(path, aside); rerr != nil {
			return nil, fmt.Errorf("snapshot: moving %q aside: %w", path, rerr)
		}
		db, err = openDB(path)
	}
	if err != nil {
		return nil, fmt.Errorf("snapshot: opening %q: %w", path, err)
	}

	return &Store{
		db:     db,
		path:   path,
		ttl:    opts.TTL,
		clock:  opts.Clock,
		logger: opts.Logger,
		rsOpts: opts.RuleSet,
	}, nil
}

func openDB(path string) (*bbolt.DB, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		if _, err := tx.CreateBucketIfNotExists(bucketSnapshot); err != nil {
			return err
		}
		_, err := tx.CreateBucketIfNotExists(bucketMeta)
		return err
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// Path returns the database file path.
func (s *Store) Path() string { return s.path }

// Close releases the database file and its lock.
func (s *Store) Close() error { return s.db.Close() }

// Save replaces the stored snapshot with rs.
func (s *Store) Save(rs *ruleset.RuleSet) error {
	data, err := Encode(rs)
	if err != nil {
		return err
	}
	vbuf := make([]byte, 8)
	sbuf := make([]byte, 8)
	binary.BigEndian.PutUint64(vbuf, uint64(FormatVersion))
	binary.BigEndian.PutUint64(sbuf, uint64(s.clock.Now().UnixNano()))

	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketSnapshot).Put(keyRules, data); err != nil {
			return err
		}
		meta := tx.Bucket(bucketMeta)
		if err := meta.Put(keyVersion, vbuf); err != nil {
			return err
		}
		return meta.Put(keySaved, sbuf)
	})
}

// Meta describes the stored snapshot.
type Meta struct {
	Version uint64
	SavedAt time.Time
	Size    int
}

// Meta returns the metadata of the stored snapshot, or ErrNoSnapshot.
func (s *Store) Meta() (Meta, error) {
	var m Meta
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		m, _, err = readSnapshot(tx, false)
		return err
	})
	return m, err
}

// Load returns the stored rule set. Every reason not to use it is an error:
// ErrNoSnapshot, ErrStale, ErrVersionMismatch or a decoding failure.
func (s *Store) Load() (*ruleset.RuleSet, error) {
	var (
		m    Meta
		data []byte
	)
	err := s.db.View(func(tx *bbolt.Tx) error {
		var err error
		m, data, err = readSnapshot(tx, true)
		return err
	})
	if err != nil {
		return nil, err
	}
	if m.Version != uint64(FormatVersion) {
		return nil, fmt.Errorf("%w: stored %d, want %d", ErrVersionMismatch, m.Version, FormatVersion)
	}
	if age := s.clock.Now().Sub(m.SavedAt); age >= s.ttl {
		return nil, fmt.Errorf("%w: saved %s ago", ErrStale, age)
	}
	return Decode(data, s.rsOpts)
}

// readSnapshot reads the meta bucket and, with withData, a copy of the
// encoded rule set. Values returned by bbolt are only valid inside tx.
func readSnapshot(tx *bbolt.Tx, withData bool) (m Meta, data []byte, err error) {
	raw := tx.Bucket(bucketSnapshot).Get(keyRules)
	if raw == nil {
		return m, nil, ErrNoSnapshot
	}
	meta := tx.Bucket(bucketMeta)
	v, saved := meta.Get(keyVersion), meta.Get(keySaved)
	if len(v) != 8 || len(saved) != 8 {
		return m, nil, fmt.Errorf("snapshot: malformed meta")
	}
	m.Version = binary.BigEndian.Uint64(v)
	m.SavedAt = time.Unix(0, int64(binary.BigEndian.Uint64(saved)))
	m.Size = len(raw)
	if withData {
		data = append([]byte(nil), raw...)
	}
	return m, data, nil
}
