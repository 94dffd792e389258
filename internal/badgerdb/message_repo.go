package badgerdb

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/keylock"

	"github.com/dgraph-io/badger/v4"
)

const maxConflictRetries = 5

type head struct {
	LastSeq int64     `json:"last_seq"`
	LastAt  time.Time `json:"last_at"`
}

type MessageRepository struct {
	db    *badger.DB
	locks *keylock.Map
	now   func() time.Time
}

func NewMessageRepository(db *badger.DB) *MessageRepository {
	return &MessageRepository{db: db, locks: keylock.New(), now: time.Now}
}

// WithClock подменяет часы (тесты).
func (r *MessageRepository) WithClock(now func() time.Time) *MessageRepository {
	r.now = now
	return r
}

func (r *MessageRepository) Append(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if err := d.Validate(); err != nil {
		return domain.Message{}, err
	}

	hk := headKey(d.Key)
	unlock := r.locks.Lock(string(hk))
	defer unlock()

	var out domain.Message
	err := r.update(ctx, func(txn *badger.Txn) error {
		h, err := readHead(txn, hk)
		if err != nil {
			return err
		}

		msg := d.Stamp(h.LastSeq+1, domain.NextCreatedAt(h.LastAt, r.now()))
		mk := messageKey(d.Key, msg.Seq)
		if err := setJSON(txn, mk, msg); err != nil {
			return err
		}
		if err := txn.Set(idKey(msg.ID), mk); err != nil {
			return err
		}
		if err := setJSON(txn, hk, head{LastSeq: msg.Seq, LastAt: msg.CreatedAt}); err != nil {
			return err
		}
		if err := txn.Set(doctorIndexKey(d.Key), []byte{}); err != nil {
			return err
		}
		if err := txn.Set(farmerIndexKey(d.Key), []byte{}); err != nil {
			return err
		}

		// отменённый вызывающий не должен получить сообщение, о котором ему сказали «ошибка»
		if err := ctx.Err(); err != nil {
			return err
		}
		out = msg
		return nil
	})
	if err != nil {
		return domain.Message{}, domain.Persistence("badger append", err)
	}
	return out, nil
}

func (r *MessageRepository) History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Persistence("badger history", err)
	}

	out := []domain.Message{}
	err := r.db.View(func(txn *badger.Txn) error {
		prefix := conversationPrefix(key)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m domain.Message
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &m) }); err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("badger history", err)
	}
	return out, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, bool, error) {
	var (
		out     domain.Message
		changed bool
	)
	err := r.update(ctx, func(txn *badger.Txn) error {
		changed = false

		ptr, err := txn.Get(idKey(messageID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
		}
		if err != nil {
			return err
		}
		mk, err := ptr.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.HasPrefix(mk, conversationPrefix(key)) {
			return fmt.Errorf("%w: message %s in conversation %s", domain.ErrNotFound, messageID, key)
		}

		m, err := readMessage(txn, mk)
		if err != nil {
			return err
		}
		if err := domain.CheckSeenBy(m, reader); err != nil {
			return err
		}
		if m.Seen {
			out = m
			return nil
		}

		m.Seen = true
		if err := setJSON(txn, mk, m); err != nil {
			return err
		}
		out, changed = m, true
		return nil
	})
	if err != nil {
		return domain.Message{}, false, domain.Persistence("badger mark seen", err)
	}
	return out, changed, nil
}

func (r *MessageRepository) MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error) {
	if !reader.Valid() {
		return nil, fmt.Errorf("%w: reader role %q", domain.ErrValidation, reader)
	}

	var changed []domain.Message
	err := r.update(ctx, func(txn *badger.Txn) error {
		changed = changed[:0]

		type pending struct {
			key []byte
			msg domain.Message
		}
		var todo []pending

		prefix := conversationPrefix(key)
		it := txn.NewIterator(badger.IteratorOptions{PrefetchValues: true, PrefetchSize: 100, Prefix: prefix})
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var m domain.Message
			if err := it.Item().Value(func(v []byte) error { return json.Unmarshal(v, &m) }); err != nil {
				it.Close()
				return err
			}
			if m.Seen || m.Sender == reader {
				continue
			}
			todo = append(todo, pending{key: it.Item().KeyCopy(nil), msg: m})
		}
		it.Close()

		for _, p := range todo {
			p.msg.Seen = true
			if err := setJSON(txn, p.key, p.msg); err != nil {
				return err
			}
			changed = append(changed, p.msg)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("badger mark all seen", err)
	}
	return changed, nil
}

func (r *MessageRepository) FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	return r.scanIndex(ctx, doctorIndexPrefix(doctorID))
}

func (r *MessageRepository) DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error) {
	return r.scanIndex(ctx, farmerIndexPrefix(farmerID))
}

func (r *MessageRepository) scanIndex(ctx context.Context, prefix []byte) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, domain.Persistence("badger directory", err)
	}

	out := []string{}
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: prefix})
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			id, err := indexSuffix(it.Item().Key(), prefix)
			if err != nil {
				return err
			}
			out = append(out, id)
		}
		return nil
	})
	if err != nil {
		return nil, domain.Persistence("badger directory", err)
	}
	slices.Sort(out)
	return out, nil
}

// update: fn в rw-транзакции, повтор при badger.ErrConflict.
func (r *MessageRepository) update(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := r.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) || attempt >= maxConflictRetries {
			return err
		}
	}
}

func readHead(txn *badger.Txn, key []byte) (head, error) {
	var h head
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return h, nil
	}
	if err != nil {
		return h, err
	}
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &h) })
	return h, err
}

func readMessage(txn *badger.Txn, key []byte) (domain.Message, error) {
	var m domain.Message
	item, err := txn.Get(key)
	if err != nil {
		return m, err
	}
	err = item.Value(func(v []byte) error { return json.Unmarshal(v, &m) })
	return m, err
}

func setJSON(txn *badger.Txn, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return txn.Set(key, data)
}
