package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/sentra-project/sentra/internal/core"
)

// Key prefixes for BadgerDB storage.
const (
	eventKeyPrefix      = "event:"
	tenantKeyPrefix     = "tenant:"
	factoryKeyPrefix    = "factory:"
	userEventKeyPrefix  = "user_event:"
	alertKeyPrefix      = "alert:"
	deadLetterKeyPrefix = "deadletter:"
)

const userEventTimeLayout = "20060102T150405.000000000Z"

// Badger is a core.Store backed by an embedded BadgerDB, suitable for
// production use with persistence across restarts. Scoped fan-out writes run
// in a single transaction, so partial copies are impossible. User ids must
// not contain ':'.
type Badger struct {
	db     *badger.DB
	logger zerolog.Logger
}

// NewBadger opens (or creates) a Badger store at dir.
func NewBadger(dir string, logger zerolog.Logger) (*Badger, error) {
	opts := badger.DefaultOptions(dir).WithLogger(nil)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("opening badger store at %s: %w", dir, err)
	}
	return &Badger{
		db:     db,
		logger: logger.With().Str("component", "badger_store").Logger(),
	}, nil
}

func (b *Badger) setEvent(txn *badger.Txn, event *core.AuditEvent, data []byte) error {
	if err := txn.Set([]byte(eventKeyPrefix+event.ID), data); err != nil {
		return fmt.Errorf("set event: %w", err)
	}
	if event.UserID != "" {
		userKey := userEventKey(event)
		if err := txn.Set(userKey, []byte(event.Action)); err != nil {
			return fmt.Errorf("set user index: %w", err)
		}
	}
	return nil
}

func userEventKey(event *core.AuditEvent) []byte {
	return []byte(userEventKeyPrefix + event.UserID + ":" +
		event.Timestamp.UTC().Format(userEventTimeLayout) + ":" + event.ID)
}

func (b *Badger) PutEvent(_ context.Context, event *core.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return b.setEvent(txn, event, data)
	})
}

func (b *Badger) PutEventScoped(_ context.Context, event *core.AuditEvent) error {
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		if err := b.setEvent(txn, event, data); err != nil {
			return err
		}
		if event.TenantID != "" {
			key := []byte(tenantKeyPrefix + event.TenantID + ":" + eventKeyPrefix + event.ID)
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("set tenant copy: %w", err)
			}
		}
		if event.FactoryID != "" {
			key := []byte(factoryKeyPrefix + event.FactoryID + ":" + eventKeyPrefix + event.ID)
			if err := txn.Set(key, data); err != nil {
				return fmt.Errorf("set factory copy: %w", err)
			}
		}
		return nil
	})
}

func (b *Badger) GetEvent(_ context.Context, id string) (*core.AuditEvent, error) {
	var event core.AuditEvent
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(eventKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get event: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &event)
		})
	})
	if err != nil {
		return nil, err
	}
	return &event, nil
}

func (b *Badger) CountEventsByUser(_ context.Context, userID, actionPrefix string, since time.Time) (int, error) {
	count := 0
	prefix := []byte(userEventKeyPrefix + userID + ":")

	err := b.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rest := strings.TrimPrefix(string(item.Key()), string(prefix))
			parts := strings.SplitN(rest, ":", 2)
			if len(parts) != 2 {
				continue
			}
			ts, err := time.Parse(userEventTimeLayout, parts[0])
			if err != nil || ts.Before(since) {
				continue
			}
			if actionPrefix == "" {
				count++
				continue
			}
			if err := item.Value(func(val []byte) error {
				if strings.HasPrefix(string(val), actionPrefix) {
					count++
				}
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("scanning user events: %w", err)
	}
	return count, nil
}

func (b *Badger) PutAlert(_ context.Context, alert *core.SecurityAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(alertKeyPrefix+alert.ID), data)
	})
}

func (b *Badger) GetAlert(_ context.Context, id string) (*core.SecurityAlert, error) {
	var alert core.SecurityAlert
	err := b.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return core.ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		})
	})
	if err != nil {
		return nil, err
	}
	return &alert, nil
}

func (b *Badger) PutDeadLetter(_ context.Context, entry *core.DeadLetter) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal dead letter: %w", err)
	}
	key := deadLetterKeyPrefix + entry.FailedAt.UTC().Format(userEventTimeLayout)
	if entry.Event != nil {
		key += ":" + entry.Event.ID
	}
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), data)
	})
}

// Close flushes and closes the underlying database.
func (b *Badger) Close() error {
	return b.db.Close()
}
