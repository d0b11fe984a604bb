// Package badger provides an embedded [store.Store] on BadgerDB, for
// single-user installs that should not need a database server.
//
// Records are msgpack-encoded, reusing their json field names, under typed
// key prefixes:
//
//	meeting/<id>
//	transcript/<meeting-id>
//	summary/<meeting-id>
//	item/<id>
//	item-by-meeting/<meeting-id>/<id>   (index, empty value)
//
// Listing scans a prefix and filters in memory; a personal meeting archive
// is small enough that this stays fast.
package badger

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/MrWong99/minutes/pkg/meeting"
	"github.com/MrWong99/minutes/pkg/store"
)

var _ store.Store = (*Store)(nil)

const (
	prefixMeeting    = "meeting/"
	prefixTranscript = "transcript/"
	prefixSummary    = "summary/"
	prefixItem       = "item/"
	prefixItemIndex  = "item-by-meeting/"
)

// Options configures [Open].
type Options struct {
	// Dir holds the data files. Required unless InMemory is set.
	Dir string

	// InMemory keeps everything in memory; used by tests.
	InMemory bool
}

// Store is a BadgerDB-backed [store.Store]. It is safe for concurrent use.
type Store struct {
	db  *badgerdb.DB
	now func() time.Time
}

// Open opens or creates the database.
func Open(opts Options) (*Store, error) {
	if !opts.InMemory && opts.Dir == "" {
		return nil, errors.New("badger store: Dir is required")
	}
	dbOpts := badgerdb.DefaultOptions(opts.Dir).WithLogger(slogLogger{})
	if opts.InMemory {
		dbOpts = dbOpts.WithDir("").WithValueDir("").WithInMemory(true)
	}
	db, err := badgerdb.Open(dbOpts)
	if err != nil {
		return nil, fmt.Errorf("badger store: open %q: %w", opts.Dir, err)
	}
	return &Store{db: db, now: time.Now}, nil
}

func (s *Store) CreateMeeting(_ context.Context, m *meeting.Meeting) error {
	store.Stamp(&m.ID, &m.CreatedAt, &m.UpdatedAt, s.now())
	return s.db.Update(func(txn *badgerdb.Txn) error {
		return put(txn, prefixMeeting+m.ID, m)
	})
}

func (s *Store) GetMeeting(_ context.Context, id string) (meeting.Meeting, error) {
	var m meeting.Meeting
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return get(txn, prefixMeeting+id, &m)
	})
	return m, err
}

func (s *Store) ListMeetings(_ context.Context, f store.MeetingFilter) ([]meeting.Meeting, error) {
	var out []meeting.Meeting
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return scan(txn, prefixMeeting, func(m meeting.Meeting) {
			if f.Match(m) {
				out = append(out, m)
			}
		})
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list meetings: %w", err)
	}
	slices.SortFunc(out, store.CompareMeetings)
	return store.Page(out, f), nil
}

func (s *Store) UpdateMeeting(_ context.Context, m meeting.Meeting) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		var old meeting.Meeting
		if err := get(txn, prefixMeeting+m.ID, &old); err != nil {
			return err
		}
		m.CreatedAt = old.CreatedAt
		m.UpdatedAt = s.now()
		return put(txn, prefixMeeting+m.ID, m)
	})
}

func (s *Store) DeleteMeeting(_ context.Context, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := exists(txn, prefixMeeting+id); err != nil {
			return err
		}
		indexPrefix := prefixItemIndex + id + "/"
		for _, itemID := range keysUnder(txn, indexPrefix) {
			if err := txn.Delete([]byte(prefixItem + itemID)); err != nil {
				return err
			}
			if err := txn.Delete([]byte(indexPrefix + itemID)); err != nil {
				return err
			}
		}
		for _, k := range []string{prefixMeeting + id, prefixTranscript + id, prefixSummary + id} {
			if err := txn.Delete([]byte(k)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *Store) CreateTranscript(_ context.Context, t *meeting.Transcript) error {
	store.Stamp(&t.ID, &t.CreatedAt, nil, s.now())
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := exists(txn, prefixMeeting+t.MeetingID); err != nil {
			return err
		}
		return put(txn, prefixTranscript+t.MeetingID, t)
	})
}

func (s *Store) GetTranscript(_ context.Context, meetingID string) (meeting.Transcript, error) {
	var t meeting.Transcript
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return get(txn, prefixTranscript+meetingID, &t)
	})
	return t, err
}

func (s *Store) CreateSummary(_ context.Context, sum *meeting.Summary) error {
	store.Stamp(&sum.ID, &sum.CreatedAt, nil, s.now())
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if err := exists(txn, prefixMeeting+sum.MeetingID); err != nil {
			return err
		}
		return put(txn, prefixSummary+sum.MeetingID, sum)
	})
}

func (s *Store) GetSummary(_ context.Context, meetingID string) (meeting.Summary, error) {
	var sum meeting.Summary
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return get(txn, prefixSummary+meetingID, &sum)
	})
	return sum, err
}

func (s *Store) CreateActionItem(_ context.Context, a *meeting.ActionItem) error {
	store.Stamp(&a.ID, &a.CreatedAt, &a.UpdatedAt, s.now())
	return s.db.Update(func(txn *badgerdb.Txn) error {
		if a.MeetingID != "" {
			if err := exists(txn, prefixMeeting+a.MeetingID); err != nil {
				return err
			}
			if err := txn.Set([]byte(prefixItemIndex+a.MeetingID+"/"+a.ID), nil); err != nil {
				return err
			}
		}
		return put(txn, prefixItem+a.ID, a)
	})
}

func (s *Store) GetActionItem(_ context.Context, id string) (meeting.ActionItem, error) {
	var a meeting.ActionItem
	err := s.db.View(func(txn *badgerdb.Txn) error {
		return get(txn, prefixItem+id, &a)
	})
	return a, err
}

func (s *Store) ListActionItems(_ context.Context, f store.ActionItemFilter) ([]meeting.ActionItem, error) {
	out := []meeting.ActionItem{}
	err := s.db.View(func(txn *badgerdb.Txn) error {
		if f.MeetingID == "" {
			return scan(txn, prefixItem, func(a meeting.ActionItem) {
				if f.Match(a) {
					out = append(out, a)
				}
			})
		}
		for _, id := range keysUnder(txn, prefixItemIndex+f.MeetingID+"/") {
			var a meeting.ActionItem
			if err := get(txn, prefixItem+id, &a); err != nil {
				return err
			}
			if f.Match(a) {
				out = append(out, a)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger store: list action items: %w", err)
	}
	slices.SortFunc(out, store.CompareActionItems)
	return out, nil
}

func (s *Store) UpdateActionItem(_ context.Context, id string, u store.ActionItemUpdate) (meeting.ActionItem, error) {
	if err := u.Validate(); err != nil {
		return meeting.ActionItem{}, err
	}
	var a meeting.ActionItem
	err := s.db.Update(func(txn *badgerdb.Txn) error {
		if err := get(txn, prefixItem+id, &a); err != nil {
			return err
		}
		u.Apply(&a, s.now())
		return put(txn, prefixItem+id, a)
	})
	return a, err
}

func (s *Store) DeleteActionItem(_ context.Context, id string) error {
	return s.db.Update(func(txn *badgerdb.Txn) error {
		var a meeting.ActionItem
		if err := get(txn, prefixItem+id, &a); err != nil {
			return err
		}
		if a.MeetingID != "" {
			if err := txn.Delete([]byte(prefixItemIndex + a.MeetingID + "/" + id)); err != nil {
				return err
			}
		}
		return txn.Delete([]byte(prefixItem + id))
	})
}

// Ping reports whether the database is open.
func (s *Store) Ping(context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store: closed")
	}
	return nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func put(txn *badgerdb.Txn, key string, v any) error {
	data, err := encode(v)
	if err != nil {
		return fmt.Errorf("badger store: encode %s: %w", key, err)
	}
	return txn.Set([]byte(key), data)
}

func get(txn *badgerdb.Txn, key string, v any) error {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("badger store: get %s: %w", key, err)
	}
	return item.Value(func(val []byte) error {
		if err := decode(val, v); err != nil {
			return fmt.Errorf("badger store: decode %s: %w", key, err)
		}
		return nil
	})
}

func exists(txn *badgerdb.Txn, key string) error {
	_, err := txn.Get([]byte(key))
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return store.ErrNotFound
	}
	return err
}

func encode(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	enc.SetCustomStructTag("json")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decode(data []byte, v any) error {
	dec := msgpack.NewDecoder(bytes.NewReader(data))
	dec.SetCustomStructTag("json")
	return dec.Decode(v)
}

// scan decodes every value under prefix into a T and hands it to fn.
func scan[T any](txn *badgerdb.Txn, prefix string, fn func(T)) error {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	it := txn.NewIterator(opts)
	defer it.Close()

	for it.Rewind(); it.Valid(); it.Next() {
		var v T
		err := it.Item().Value(func(val []byte) error {
			return decode(val, &v)
		})
		if err != nil {
			return fmt.Errorf("decode %s: %w", it.Item().Key(), err)
		}
		fn(v)
	}
	return nil
}

// keysUnder returns the key suffixes below prefix.
func keysUnder(txn *badgerdb.Txn, prefix string) []string {
	opts := badgerdb.DefaultIteratorOptions
	opts.Prefix = []byte(prefix)
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var out []string
	for it.Rewind(); it.Valid(); it.Next() {
		out = append(out, string(it.Item().Key()[len(prefix):]))
	}
	return out
}

// slogLogger routes badger's warnings and errors to slog and drops the rest.
type slogLogger struct{}

func (slogLogger) Errorf(f string, v ...any)   { slog.Error("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Warningf(f string, v ...any) { slog.Warn("badger: " + fmt.Sprintf(f, v...)) }
func (slogLogger) Infof(string, ...any)        {}
func (slogLogger) Debugf(string, ...any)       {}
