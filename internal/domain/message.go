package domain

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// в рунах
const MaxBodyLength = 4000

// Message после создания меняет только Seen, и только false → true.
type Message struct {
	ID        string    `json:"id" db:"id"`
	Seq       int64     `json:"seq" db:"seq"`
	FarmerID  string    `json:"farmer_id" db:"farmer_id"`
	DoctorID  string    `json:"doctor_id" db:"doctor_id"`
	Sender    Role      `json:"sender" db:"sender"`
	Body      string    `json:"body" db:"body"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	Seen      bool      `json:"seen" db:"seen"`
}

func (m Message) Key() ConversationKey {
	return ConversationKey{FarmerID: m.FarmerID, DoctorID: m.DoctorID}
}

// Recipient: единственная роль, которая может отметить сообщение прочитанным.
func (m Message) Recipient() Role {
	return m.Sender.Counterpart()
}

// Draft: проверенный запрос на отправку, ещё не сохранённый.
type Draft struct {
	Key    ConversationKey
	Sender Role
	Body   string
}

func NewDraft(farmerID, doctorID, sender, body string) (Draft, error) {
	key, err := NewConversationKey(farmerID, doctorID)
	if err != nil {
		return Draft{}, err
	}
	role, err := ParseRole(sender)
	if err != nil {
		return Draft{}, err
	}
	d := Draft{Key: key, Sender: role, Body: strings.TrimSpace(body)}
	if err := d.Validate(); err != nil {
		return Draft{}, err
	}
	return d, nil
}

func (d Draft) Validate() error {
	if err := d.Key.Validate(); err != nil {
		return err
	}
	if !d.Sender.Valid() {
		return invalid("sender %q is not one of farmer|doctor", d.Sender)
	}
	body := strings.TrimSpace(d.Body)
	if body == "" {
		return invalid("body is empty")
	}
	if utf8.RuneCountInString(body) > MaxBodyLength {
		return invalid("body is longer than %d characters", MaxBodyLength)
	}
	return nil
}

// Stamp вызывается хранилищем в точке записи.
func (d Draft) Stamp(seq int64, at time.Time) Message {
	return Message{
		ID:        uuid.Must(uuid.NewV7()).String(),
		Seq:       seq,
		FarmerID:  d.Key.FarmerID,
		DoctorID:  d.Key.DoctorID,
		Sender:    d.Sender,
		Body:      strings.TrimSpace(d.Body),
		CreatedAt: at,
	}
}

// NextCreatedAt: created_at внутри переписки не убывает, даже если часы отскочили назад.
func NextCreatedAt(prev, now time.Time) time.Time {
	now = now.UTC().Truncate(time.Microsecond)
	if now.Before(prev) {
		return prev
	}
	return now
}

func CheckSeenBy(m Message, reader Role) error {
	if !reader.Valid() {
		return invalid("reader role %q is not one of farmer|doctor", reader)
	}
	if m.Sender == reader {
		return invalid("message %s was sent by %s and can only be marked seen by the %s", m.ID, m.Sender, m.Recipient())
	}
	return nil
}
