package chat

import "errors"

var (
	ErrInvalidFrame     = errors.New("invalid frame")
	ErrUnknownFrame     = errors.New("unknown frame type")
	ErrUpload           = errors.New("attachment upload failed")
	ErrPersistence      = errors.New("persistence failed")
	ErrDelivery         = errors.New("direct delivery failed")
	ErrNotFound         = errors.New("not found")
	ErrDuplicate        = errors.New("duplicate notification")
	ErrStatusRegression = errors.New("status cannot move backwards")
	ErrInvalidStatus    = errors.New("invalid status")
	ErrConnClosed       = errors.New("connection closed")
	ErrSendBufferFull   = errors.New("send buffer full")
)
