package service

import (
	"strings"
	"testing"

	"github.com/ReilBleem13/PalMessenger/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInbound_Valid(t *testing.T) {
	eventType, req, err := decodeInbound([]byte(`{"type":"private_message","data":{"to":"bob","message":"hi","tempId":"t1"}}`), 10)
	require.NoError(t, err)
	assert.Equal(t, PrivateMessageType, eventType)
	assert.Equal(t, &PrivateMessageRequest{To: "bob", Message: "hi", TempID: "t1"}, req)

	eventType, req, err = decodeInbound([]byte(`{"type":"register"}`), 10)
	require.NoError(t, err)
	assert.Equal(t, RegisterType, eventType)
	assert.Equal(t, &RegisterRequest{}, req)

	_, req, err = decodeInbound([]byte(`{"type":"set_status","data":{"status":"busy"}}`), 10)
	require.NoError(t, err)
	assert.Equal(t, domain.StatusBusy, req.(*SetStatusRequest).Status)
}

func TestDecodeInbound_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{`},
		{"unknown type", `{"type":"shout","data":{}}`},
		{"payload of wrong shape", `{"type":"typing_start","data":[1,2]}`},
		{"blank message", `{"type":"private_message","data":{"to":"bob","message":"   ","tempId":"t"}}`},
		{"message too long", `{"type":"private_message","data":{"to":"bob","message":"` + strings.Repeat("я", 11) + `","tempId":"t"}}`},
		{"missing temp id", `{"type":"private_message","data":{"to":"bob","message":"hi"}}`},
		{"padded recipient", `{"type":"typing_stop","data":{"to":" bob"}}`},
		{"long username", `{"type":"register","data":{"username":"` + strings.Repeat("a", 33) + `"}}`},
		{"zero message id", `{"type":"message_reaction","data":{"messageId":0,"emoji":"👍"}}`},
		{"emoji with space", `{"type":"message_reaction","data":{"messageId":1,"emoji":"a b"}}`},
		{"reaction to padded name", `{"type":"message_reaction","data":{"messageId":1,"emoji":"👍","to":"bob "}}`},
		{"offline is not settable", `{"type":"set_status","data":{"status":"offline"}}`},
		{"mark read without sender", `{"type":"mark_read","data":{}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeInbound([]byte(tt.raw), 10)
			assert.ErrorIs(t, err, domain.ErrInvalidRequest)
		})
	}
}

func TestDecodeInbound_LengthCountsRunes(t *testing.T) {
	raw := `{"type":"private_message","data":{"to":"bob","message":"` + strings.Repeat("я", 10) + `","tempId":"t"}}`
	_, _, err := decodeInbound([]byte(raw), 10)
	assert.NoError(t, err)
}
