package chat

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

type FrameType string

const (
	FrameRegisterUser   FrameType = "registerUser"
	FrameSendMessage    FrameType = "sendMessage"
	FrameReceiveMessage FrameType = "receiveMessage"
	FrameError          FrameType = "error"
)

var validate = validator.New()

// Frame is an inbound control frame: RegisterUser or SendMessage.
type Frame interface {
	Type() FrameType
}

type RegisterUser struct {
	UserID string `json:"userId" validate:"required"`
}

func (RegisterUser) Type() FrameType { return FrameRegisterUser }

type SendMessage struct {
	SenderID   string `json:"senderId" validate:"required"`
	ReceiverID string `json:"receiverId" validate:"required"`
	Content    string `json:"content" validate:"required_without=Image"`
	// Image is the base64 attachment as sent by the client, optionally
	// as a data URL. Attachment holds the decoded bytes.
	Image      string `json:"image,omitempty"`
	Attachment []byte `json:"-"`
}

func (SendMessage) Type() FrameType { return FrameSendMessage }

// ReceiveMessage is pushed to a connected receiver.
type ReceiveMessage struct {
	Type      FrameType `json:"type"`
	SenderID  string    `json:"senderId,omitempty"`
	Content   string    `json:"content"`
	Image     string    `json:"image,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorFrame tells a sender that its last sendMessage did not go through.
type ErrorFrame struct {
	Type  FrameType `json:"type"`
	Error string    `json:"error"`
}

// DecodeFrame parses one inbound text frame. Unknown types are rejected.
func DecodeFrame(raw []byte) (Frame, error) {
	var head struct {
		Type FrameType `json:"type"`
	}
	if err := json.Unmarshal(raw, &head); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}

	switch head.Type {
	case FrameRegisterUser:
		var f RegisterUser
		if err := json.Unmarshal(raw, &f); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
		if err := validate.Struct(f); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
		}
		return f, nil
	case FrameSendMessage:
		return DecodeSendMessage(raw)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownFrame, head.Type)
	}
}

// DecodeSendMessage parses and validates a send request. It is shared by the
// socket and REST paths.
func DecodeSendMessage(raw []byte) (SendMessage, error) {
	var f SendMessage
	if err := json.Unmarshal(raw, &f); err != nil {
		return SendMessage{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if err := validate.Struct(f); err != nil {
		return SendMessage{}, fmt.Errorf("%w: %w", ErrInvalidFrame, err)
	}
	if f.Image != "" {
		data, err := decodeImage(f.Image)
		if err != nil {
			return SendMessage{}, fmt.Errorf("%w: image: %w", ErrInvalidFrame, err)
		}
		f.Attachment = data
	}
	return f, nil
}

func decodeImage(s string) ([]byte, error) {
	if strings.HasPrefix(s, "data:") {
		_, payload, ok := strings.Cut(s, ";base64,")
		if !ok {
			return nil, fmt.Errorf("data URL is not base64")
		}
		s = payload
	}
	return base64.StdEncoding.DecodeString(s)
}
