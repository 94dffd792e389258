package domain

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewDraft_Validation(t *testing.T) {
	cases := []struct {
		name     string
		farmer   string
		doctor   string
		sender   string
		body     string
		wantErr  bool
		wantBody string
	}{
		{name: "ok farmer", farmer: "f1", doctor: "d1", sender: "farmer", body: " cow has fever ", wantBody: "cow has fever"},
		{name: "ok doctor upper case", farmer: "f1", doctor: "d1", sender: "Doctor", body: "hi", wantBody: "hi"},
		{name: "missing farmer", farmer: " ", doctor: "d1", sender: "farmer", body: "hi", wantErr: true},
		{name: "missing doctor", farmer: "f1", doctor: "", sender: "farmer", body: "hi", wantErr: true},
		{name: "bad sender", farmer: "f1", doctor: "d1", sender: "vet", body: "hi", wantErr: true},
		{name: "empty body", farmer: "f1", doctor: "d1", sender: "doctor", body: "   ", wantErr: true},
		{name: "too long", farmer: "f1", doctor: "d1", sender: "doctor", body: strings.Repeat("a", MaxBodyLength+1), wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d, err := NewDraft(tc.farmer, tc.doctor, tc.sender, tc.body)
			if tc.wantErr {
				require.Error(t, err)
				require.True(t, errors.Is(err, ErrValidation), "got %v", err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.wantBody, d.Body)
		})
	}
}

func TestDraft_Validate_RejectsUnknownSender(t *testing.T) {
	d := Draft{Key: ConversationKey{FarmerID: "f", DoctorID: "d"}, Sender: "admin", Body: "x"}
	require.ErrorIs(t, d.Validate(), ErrValidation)
}

func TestDraft_Stamp(t *testing.T) {
	d, err := NewDraft("f1", "d1", "farmer", "hello")
	require.NoError(t, err)

	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	m := d.Stamp(7, at)

	require.NotEmpty(t, m.ID)
	require.Equal(t, int64(7), m.Seq)
	require.Equal(t, at, m.CreatedAt)
	require.False(t, m.Seen)
	require.Equal(t, RoleDoctor, m.Recipient())
	require.Equal(t, d.Key, m.Key())

	other := d.Stamp(8, at)
	require.NotEqual(t, m.ID, other.ID)
}

func TestNextCreatedAt_NeverGoesBack(t *testing.T) {
	prev := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	require.Equal(t, prev, NextCreatedAt(prev, prev.Add(-time.Second)))
	require.Equal(t, prev.Add(time.Second), NextCreatedAt(prev, prev.Add(time.Second)))
}

func TestCheckSeenBy(t *testing.T) {
	m := Message{ID: "m1", Sender: RoleFarmer}

	require.NoError(t, CheckSeenBy(m, RoleDoctor))
	require.ErrorIs(t, CheckSeenBy(m, RoleFarmer), ErrValidation)
	require.ErrorIs(t, CheckSeenBy(m, Role("store")), ErrValidation)
}

func TestIdentity_CanAccess(t *testing.T) {
	key := ConversationKey{FarmerID: "f1", DoctorID: "d1"}

	require.True(t, Identity{UserID: "f1", Role: RoleFarmer}.CanAccess(key))
	require.True(t, Identity{UserID: "d1", Role: RoleDoctor}.CanAccess(key))
	require.False(t, Identity{UserID: "f1", Role: RoleDoctor}.CanAccess(key))
	require.False(t, Identity{UserID: "f2", Role: RoleFarmer}.CanAccess(key))
	require.False(t, Identity{}.CanAccess(key))
}

func TestIdentity_CheckSender(t *testing.T) {
	doctor := Identity{UserID: "d1", Role: RoleDoctor}

	require.NoError(t, doctor.CheckSender(""))
	require.NoError(t, doctor.CheckSender("doctor"))
	require.NoError(t, doctor.CheckSender("Doctor"))
	require.NoError(t, doctor.CheckSender(" DOCTOR "))
	require.ErrorIs(t, doctor.CheckSender("Farmer"), ErrForbidden)
	require.ErrorIs(t, doctor.CheckSender("vet"), ErrValidation)
}

func TestPersistence_Wrap(t *testing.T) {
	base := errors.New("disk full")
	err := Persistence("append", base)

	require.ErrorIs(t, err, ErrPersistence)
	require.ErrorIs(t, err, base)
	require.Nil(t, Persistence("noop", nil))

	v := invalid("x")
	require.Equal(t, v, Persistence("append", v))
}
