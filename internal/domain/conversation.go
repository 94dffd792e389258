package domain

import "strings"

const MaxParticipantIDLength = 128

// ConversationKey: переписка одного фермера с одним доктором. Фермер всегда первый.
type ConversationKey struct {
	FarmerID string `json:"farmer_id" db:"farmer_id"`
	DoctorID string `json:"doctor_id" db:"doctor_id"`
}

func NewConversationKey(farmerID, doctorID string) (ConversationKey, error) {
	f, err := participantID("farmer_id", farmerID)
	if err != nil {
		return ConversationKey{}, err
	}
	d, err := participantID("doctor_id", doctorID)
	if err != nil {
		return ConversationKey{}, err
	}
	return ConversationKey{FarmerID: f, DoctorID: d}, nil
}

func (k ConversationKey) Validate() error {
	_, err := NewConversationKey(k.FarmerID, k.DoctorID)
	return err
}

func (k ConversationKey) ParticipantID(r Role) string {
	switch r {
	case RoleFarmer:
		return k.FarmerID
	case RoleDoctor:
		return k.DoctorID
	default:
		return ""
	}
}

func (k ConversationKey) String() string {
	return k.FarmerID + ":" + k.DoctorID
}

func participantID(field, v string) (string, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return "", invalid("%s is required", field)
	}
	if len(v) > MaxParticipantIDLength {
		return "", invalid("%s is longer than %d bytes", field, MaxParticipantIDLength)
	}
	return v, nil
}

func ValidateParticipantID(field, v string) (string, error) {
	return participantID(field, v)
}
