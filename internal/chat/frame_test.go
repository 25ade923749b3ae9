package chat

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDecodeFrame_RegisterUser(t *testing.T) {
	req := require.New(t)

	f, err := DecodeFrame([]byte(`{"type":"registerUser","userId":"alice"}`))
	req.NoError(err)
	req.Equal(RegisterUser{UserID: "alice"}, f)
	req.Equal(FrameRegisterUser, f.Type())
}

func TestDecodeFrame_SendMessageWithImage(t *testing.T) {
	img := []byte{0x89, 'P', 'N', 'G'}

	tests := []struct {
		name  string
		image string
	}{
		{"plain base64", base64.StdEncoding.EncodeToString(img)},
		{"data url", "data:image/png;base64," + base64.StdEncoding.EncodeToString(img)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := require.New(t)
			raw := `{"type":"sendMessage","senderId":"alice","receiverId":"carol","content":"","image":"` + tt.image + `"}`
			f, err := DecodeFrame([]byte(raw))
			req.NoError(err)

			msg, ok := f.(SendMessage)
			req.True(ok)
			req.Equal("alice", msg.SenderID)
			req.Equal("carol", msg.ReceiverID)
			req.Equal(img, msg.Attachment)
		})
	}
}

func TestDecodeFrame_Rejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want error
	}{
		{"not json", `hello`, ErrInvalidFrame},
		{"unknown type", `{"type":"typing","userId":"alice"}`, ErrUnknownFrame},
		{"missing type", `{"userId":"alice"}`, ErrUnknownFrame},
		{"register without user", `{"type":"registerUser"}`, ErrInvalidFrame},
		{"send without receiver", `{"type":"sendMessage","senderId":"a","content":"hi"}`, ErrInvalidFrame},
		{"send without sender", `{"type":"sendMessage","receiverId":"b","content":"hi"}`, ErrInvalidFrame},
		{"send without content or image", `{"type":"sendMessage","senderId":"a","receiverId":"b"}`, ErrInvalidFrame},
		{"bad base64", `{"type":"sendMessage","senderId":"a","receiverId":"b","image":"%%%"}`, ErrInvalidFrame},
		{"data url not base64", `{"type":"sendMessage","senderId":"a","receiverId":"b","image":"data:image/png,abc"}`, ErrInvalidFrame},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeFrame([]byte(tt.raw))
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestNotificationContent(t *testing.T) {
	require.Equal(t, "sent a photo", NotificationContent(true))
	require.Equal(t, "sent a message", NotificationContent(false))
}

func TestStatus_CanAdvanceTo(t *testing.T) {
	req := require.New(t)
	req.True(StatusSent.CanAdvanceTo(StatusDelivered))
	req.True(StatusDelivered.CanAdvanceTo(StatusRead))
	req.True(StatusRead.CanAdvanceTo(StatusRead))
	req.False(StatusRead.CanAdvanceTo(StatusSent))
	req.False(StatusSent.CanAdvanceTo(Status("seen")))
}
