package postgres

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/jackc/pgx/v5"
	pgconn "github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

type MessageRepository struct {
	db  *pgxpool.Pool
	now func() time.Time
}

func NewMessageRepository(db *pgxpool.Pool) *MessageRepository {
	return &MessageRepository{db: db, now: time.Now}
}

// Append в одной транзакции сдвигает шапку беседы и вставляет сообщение.
// Если ctx отменён до COMMIT, сообщения нет.
func (r *MessageRepository) Append(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if err := d.Validate(); err != nil {
		return domain.Message{}, err
	}

	var out domain.Message
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		var (
			seq    int64
			lastAt time.Time
		)
		now := r.now().UTC().Truncate(time.Microsecond)
		if err := tx.QueryRow(ctx, qBumpConversation, d.Key.FarmerID, d.Key.DoctorID, now).Scan(&seq, &lastAt); err != nil {
			return fmt.Errorf("bump conversation: %w", err)
		}

		m := d.Stamp(seq, domain.NextCreatedAt(lastAt, now))
		if _, err := tx.Exec(ctx, qInsertMessage, m.ID, m.FarmerID, m.DoctorID, m.Seq, string(m.Sender), m.Body, m.CreatedAt); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		out = m
		return nil
	})
	if err != nil {
		return domain.Message{}, domain.Persistence("postgres append", err)
	}
	return out, nil
}

func (r *MessageRepository) History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	rows, err := r.db.Query(ctx, qHistory, key.FarmerID, key.DoctorID)
	if err != nil {
		return nil, domain.Persistence("postgres history", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, domain.Persistence("postgres history", err)
	}
	return out, nil
}

func (r *MessageRepository) MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, bool, error) {
	var (
		out     domain.Message
		changed bool
	)
	err := pgx.BeginFunc(ctx, r.db, func(tx pgx.Tx) error {
		m, err := scanMessage(tx.QueryRow(ctx, qMessageForUpdate, messageID, key.FarmerID, key.DoctorID))
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return fmt.Errorf("%w: message %s in conversation %s", domain.ErrNotFound, messageID, key)
			}
			return mapPgError(err, messageID)
		}
		if err := domain.CheckSeenBy(m, reader); err != nil {
			return err
		}
		if m.Seen {
			out = m
			return nil
		}
		if _, err := tx.Exec(ctx, qSetSeen, messageID); err != nil {
			return err
		}
		m.Seen = true
		out, changed = m, true
		return nil
	})
	if err != nil {
		return domain.Message{}, false, domain.Persistence("postgres mark seen", err)
	}
	return out, changed, nil
}

func (r *MessageRepository) MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error) {
	if !reader.Valid() {
		return nil, fmt.Errorf("%w: reader role %q", domain.ErrValidation, reader)
	}

	rows, err := r.db.Query(ctx, qMarkAllSeen, key.FarmerID, key.DoctorID, string(reader))
	if err != nil {
		return nil, domain.Persistence("postgres mark all seen", err)
	}
	out, err := scanMessages(rows)
	if err != nil {
		return nil, domain.Persistence("postgres mark all seen", err)
	}
	// RETURNING не гарантирует порядок
	slices.SortFunc(out, func(a, b domain.Message) int { return cmp.Compare(a.Seq, b.Seq) })
	return out, nil
}

func (r *MessageRepository) FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	return r.ids(ctx, qFarmersForDoctor, doctorID)
}

func (r *MessageRepository) DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error) {
	return r.ids(ctx, qDoctorsForFarmer, farmerID)
}

func (r *MessageRepository) ids(ctx context.Context, sql, arg string) ([]string, error) {
	rows, err := r.db.Query(ctx, sql, arg)
	if err != nil {
		return nil, domain.Persistence("postgres directory", err)
	}
	out, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, domain.Persistence("postgres directory", err)
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func scanMessage(row pgx.Row) (domain.Message, error) {
	var (
		m      domain.Message
		sender string
	)
	err := row.Scan(&m.ID, &m.Seq, &m.FarmerID, &m.DoctorID, &sender, &m.Body, &m.CreatedAt, &m.Seen)
	m.Sender = domain.Role(sender)
	m.CreatedAt = m.CreatedAt.UTC()
	return m, err
}

func scanMessages(rows pgx.Rows) ([]domain.Message, error) {
	defer rows.Close()

	out := []domain.Message{}
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func mapPgError(err error, messageID string) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// 22P02 (invalid_text_representation): id не является UUID
		if pgErr.Code == "22P02" {
			return fmt.Errorf("%w: message %s", domain.ErrNotFound, messageID)
		}
	}
	return err
}
