package wire

import (
	"testing"

	"github.com/cwrk-planet/consult-service/internal/domain"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeSendMessage(t *testing.T) {
	data, err := Encode(TypeSendMessage, "r1", SendMessagePayload{
		RoomPayload: RoomPayload{FarmerID: "f1", DoctorID: "d1"},
		Sender:      "farmer",
		Body:        "cow has fever",
	})
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"send_message","ref":"r1","payload":{"farmer_id":"f1","doctor_id":"d1","sender":"farmer","body":"cow has fever"}}`, string(data))

	f, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, TypeSendMessage, f.Type)

	var p SendMessagePayload
	require.NoError(t, f.DecodePayload(&p))
	key, err := p.Key()
	require.NoError(t, err)
	require.Equal(t, domain.ConversationKey{FarmerID: "f1", DoctorID: "d1"}, key)
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte("{"))
	require.ErrorIs(t, err, domain.ErrValidation)

	_, err = Decode([]byte(`{"payload":{}}`))
	require.ErrorIs(t, err, domain.ErrValidation)

	f, err := Decode([]byte(`{"type":"join"}`))
	require.NoError(t, err)
	require.ErrorIs(t, f.DecodePayload(&JoinPayload{}), domain.ErrValidation)
}

func TestEncodeWithoutPayload(t *testing.T) {
	data, err := Encode(TypePong, "", nil)
	require.NoError(t, err)
	require.JSONEq(t, `{"type":"pong"}`, string(data))
}
