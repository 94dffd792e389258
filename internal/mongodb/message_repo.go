package mongodb

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/cwrk-planet/consult-service/internal/domain"
	"github.com/cwrk-planet/consult-service/internal/keylock"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	conversationsCollection = "conversations"
	messagesCollection      = "messages"
)

type conversationID struct {
	FarmerID string `bson:"farmer_id"`
	DoctorID string `bson:"doctor_id"`
}

type conversationDoc struct {
	ID      conversationID `bson:"_id"`
	LastSeq int64          `bson:"last_seq"`
	LastAt  time.Time      `bson:"last_at"`
}

type messageDoc struct {
	ID        string    `bson:"_id"`
	FarmerID  string    `bson:"farmer_id"`
	DoctorID  string    `bson:"doctor_id"`
	Seq       int64     `bson:"seq"`
	Sender    string    `bson:"sender"`
	Body      string    `bson:"body"`
	CreatedAt time.Time `bson:"created_at"`
	Seen      bool      `bson:"seen"`
}

func (d messageDoc) toDomain() domain.Message {
	return domain.Message{
		ID:        d.ID,
		Seq:       d.Seq,
		FarmerID:  d.FarmerID,
		DoctorID:  d.DoctorID,
		Sender:    domain.Role(d.Sender),
		Body:      d.Body,
		CreatedAt: d.CreatedAt.UTC(),
		Seen:      d.Seen,
	}
}

// MessageRepository хранит шапки бесед и сообщения в двух коллекциях.
// Mongo хранит время с точностью до миллисекунд, поэтому created_at
// округляется до них ещё до записи.
type MessageRepository struct {
	conversations *mongo.Collection
	messages      *mongo.Collection
	locks         *keylock.Map
	now           func() time.Time
}

func NewMessageRepository(db *mongo.Database) *MessageRepository {
	return &MessageRepository{
		conversations: db.Collection(conversationsCollection),
		messages:      db.Collection(messagesCollection),
		locks:         keylock.New(),
		now:           time.Now,
	}
}

// EnsureIndexes создаёт индексы. Уникальный (farmer_id, doctor_id, seq)
// не даёт двум сообщениям одной беседы получить один seq и заодно
// обслуживает список врачей фермера; (doctor_id, farmer_id) нужен для списка фермеров.
func (r *MessageRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.messages.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "farmer_id", Value: 1}, {Key: "doctor_id", Value: 1}, {Key: "seq", Value: 1}},
			Options: options.Index().SetUnique(true).SetName("conversation_seq"),
		},
		{
			Keys:    bson.D{{Key: "doctor_id", Value: 1}, {Key: "farmer_id", Value: 1}},
			Options: options.Index().SetName("doctor_farmer"),
		},
	})
	if err != nil {
		return fmt.Errorf("mongo indexes: %w", err)
	}
	return nil
}

// Append: счётчик беседы ($inc) и вставка сообщения идут под локом беседы,
// иначе история могла бы на мгновение показать seq N+1 без seq N.
// Если вставка не удалась после инкремента, в seq остаётся дырка; порядок не ломается.
// Шапка без сообщений тогда тоже остаётся, поэтому каталог читается только из messages.
func (r *MessageRepository) Append(ctx context.Context, d domain.Draft) (domain.Message, error) {
	if err := d.Validate(); err != nil {
		return domain.Message{}, err
	}

	unlock := r.locks.Lock(d.Key.String())
	defer unlock()

	now := r.now().UTC().Truncate(time.Millisecond)
	var head conversationDoc
	err := r.conversations.FindOneAndUpdate(ctx,
		bson.M{"_id": conversationID{FarmerID: d.Key.FarmerID, DoctorID: d.Key.DoctorID}},
		bson.M{"$inc": bson.M{"last_seq": 1}, "$max": bson.M{"last_at": now}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&head)
	if err != nil {
		return domain.Message{}, domain.Persistence("mongo bump conversation", err)
	}

	m := d.Stamp(head.LastSeq, domain.NextCreatedAt(head.LastAt, now).Truncate(time.Millisecond))
	if err := ctx.Err(); err != nil {
		return domain.Message{}, domain.Persistence("mongo append", err)
	}
	_, err = r.messages.InsertOne(ctx, messageDoc{
		ID:        m.ID,
		FarmerID:  m.FarmerID,
		DoctorID:  m.DoctorID,
		Seq:       m.Seq,
		Sender:    string(m.Sender),
		Body:      m.Body,
		CreatedAt: m.CreatedAt,
	})
	if err != nil {
		return domain.Message{}, domain.Persistence("mongo insert message", err)
	}
	return m, nil
}

func (r *MessageRepository) History(ctx context.Context, key domain.ConversationKey) ([]domain.Message, error) {
	return r.find(ctx, "mongo history",
		bson.M{"farmer_id": key.FarmerID, "doctor_id": key.DoctorID})
}

func (r *MessageRepository) MarkSeen(ctx context.Context, key domain.ConversationKey, messageID string, reader domain.Role) (domain.Message, bool, error) {
	filter := bson.M{"_id": messageID, "farmer_id": key.FarmerID, "doctor_id": key.DoctorID}

	var doc messageDoc
	err := r.messages.FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return domain.Message{}, false, fmt.Errorf("%w: message %s in conversation %s", domain.ErrNotFound, messageID, key)
	}
	if err != nil {
		return domain.Message{}, false, domain.Persistence("mongo mark seen", err)
	}

	m := doc.toDomain()
	if err := domain.CheckSeenBy(m, reader); err != nil {
		return domain.Message{}, false, err
	}
	if m.Seen {
		return m, false, nil
	}

	res, err := r.messages.UpdateOne(ctx, bson.M{"_id": messageID, "seen": false}, bson.M{"$set": bson.M{"seen": true}})
	if err != nil {
		return domain.Message{}, false, domain.Persistence("mongo mark seen", err)
	}
	m.Seen = true
	return m, res.ModifiedCount == 1, nil
}

func (r *MessageRepository) MarkAllSeen(ctx context.Context, key domain.ConversationKey, reader domain.Role) ([]domain.Message, error) {
	if !reader.Valid() {
		return nil, fmt.Errorf("%w: reader role %q", domain.ErrValidation, reader)
	}

	unseen, err := r.find(ctx, "mongo mark all seen", bson.M{
		"farmer_id": key.FarmerID,
		"doctor_id": key.DoctorID,
		"sender":    bson.M{"$ne": string(reader)},
		"seen":      false,
	})
	if err != nil {
		return nil, err
	}

	// по одному: в ответ попадают только те, кого перевели именно мы
	changed := make([]domain.Message, 0, len(unseen))
	for _, m := range unseen {
		res, err := r.messages.UpdateOne(ctx, bson.M{"_id": m.ID, "seen": false}, bson.M{"$set": bson.M{"seen": true}})
		if err != nil {
			return nil, domain.Persistence("mongo mark all seen", err)
		}
		if res.ModifiedCount == 1 {
			m.Seen = true
			changed = append(changed, m)
		}
	}
	return changed, nil
}

func (r *MessageRepository) FarmersForDoctor(ctx context.Context, doctorID string) ([]string, error) {
	return r.distinct(ctx, "farmer_id", bson.M{"doctor_id": doctorID})
}

func (r *MessageRepository) DoctorsForFarmer(ctx context.Context, farmerID string) ([]string, error) {
	return r.distinct(ctx, "doctor_id", bson.M{"farmer_id": farmerID})
}

func (r *MessageRepository) find(ctx context.Context, op string, filter bson.M) ([]domain.Message, error) {
	cur, err := r.messages.Find(ctx, filter, options.Find().SetSort(bson.D{{Key: "seq", Value: 1}}))
	if err != nil {
		return nil, domain.Persistence(op, err)
	}
	defer cur.Close(ctx)

	var docs []messageDoc
	if err := cur.All(ctx, &docs); err != nil {
		return nil, domain.Persistence(op, err)
	}

	out := make([]domain.Message, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *MessageRepository) distinct(ctx context.Context, field string, filter bson.M) ([]string, error) {
	raw, err := r.messages.Distinct(ctx, field, filter)
	if err != nil {
		return nil, domain.Persistence("mongo directory", err)
	}

	out := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			out = append(out, s)
		}
	}
	slices.Sort(out)
	return out, nil
}
