package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"chat-relay/internal/blob"

	"github.com/rs/zerolog"
)

const (
	attachmentFolder = "chat_images"
	attachmentType   = "image"
)

// BlobStore stores attachments and hands back a public URL.
type BlobStore interface {
	Upload(ctx context.Context, data []byte, opts blob.UploadOptions) (*blob.Result, error)
}

// Publisher is the producing side of the durable fan-out channel.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte) (string, error)
}

// Sender is what a connection needs to hand off a sendMessage frame.
type Sender interface {
	Send(ctx context.Context, req SendMessage) (*Receipt, error)
}

// Router persists outbound messages and then delivers them, either straight
// to a connection registered in this process or through the fan-out channel.
type Router struct {
	store     Store
	blobs     BlobStore
	publisher Publisher
	registry  *Registry
	topic     string
	log       zerolog.Logger
	now       func() time.Time
}

func NewRouter(store Store, blobs BlobStore, publisher Publisher, registry *Registry, topic string, log zerolog.Logger) *Router {
	return &Router{
		store:     store,
		blobs:     blobs,
		publisher: publisher,
		registry:  registry,
		topic:     topic,
		log:       log.With().Str("component", "router").Logger(),
		now:       time.Now,
	}
}

// Send uploads the attachment (if any), persists the message and its
// notification, then delivers. It returns once both records are stored;
// delivery problems are reported in the receipt, not as an error.
//
// Cancelling ctx stops the operation before the upload or before
// persistence starts. Once the transaction begins it runs to completion
// regardless.
func (r *Router) Send(ctx context.Context, req SendMessage) (*Receipt, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var image string
	if len(req.Attachment) > 0 {
		url, err := r.upload(ctx, req)
		if err != nil {
			return nil, err
		}
		image = url
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	persistCtx := context.WithoutCancel(ctx)

	msg := &Message{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Content:    req.Content,
		Image:      image,
		Status:     StatusSent,
	}
	notification := &Notification{
		SenderID:   req.SenderID,
		ReceiverID: req.ReceiverID,
		Content:    NotificationContent(image != ""),
		Image:      image,
	}
	if err := r.store.SaveMessageWithNotification(persistCtx, msg, notification); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrPersistence, err)
	}

	route, err := r.deliver(persistCtx, msg, notification.Content)
	return &Receipt{
		Message:      msg,
		Notification: notification,
		Route:        route,
		DeliveryErr:  err,
	}, nil
}

func (r *Router) upload(ctx context.Context, req SendMessage) (string, error) {
	if r.blobs == nil {
		return "", fmt.Errorf("%w: no blob store configured", ErrUpload)
	}
	res, err := r.blobs.Upload(ctx, req.Attachment, blob.UploadOptions{
		Folder:       attachmentFolder,
		ID:           fmt.Sprintf("%d_%s", r.now().UnixMilli(), req.SenderID),
		ResourceType: attachmentType,
	})
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUpload, err)
	}
	return res.SecureURL, nil
}

// deliver is the only place that decides between a direct push and the
// fan-out channel. A failed push is not followed by a publish: the stored
// notification already covers the offline case.
func (r *Router) deliver(ctx context.Context, msg *Message, notificationText string) (Route, error) {
	log := r.log.With().
		Int64("message_id", msg.ID).
		Str("sender_id", msg.SenderID).
		Str("receiver_id", msg.ReceiverID).
		Logger()

	if conn, ok := r.registry.Lookup(msg.ReceiverID); ok {
		payload, err := json.Marshal(ReceiveMessage{
			Type:      FrameReceiveMessage,
			SenderID:  msg.SenderID,
			Content:   msg.Content,
			Image:     msg.Image,
			Timestamp: msg.CreatedAt,
		})
		if err != nil {
			return RouteDropped, err
		}
		if err := conn.Send(payload); err != nil {
			log.Warn().Err(err).Msg("direct delivery failed, receiver treated as offline")
			return RouteDropped, fmt.Errorf("%w: %w", ErrDelivery, err)
		}
		log.Debug().Msg("delivered directly")
		return RouteDirect, nil
	}

	payload, err := json.Marshal(Envelope{
		ReceiverID: msg.ReceiverID,
		SenderID:   msg.SenderID,
		Content:    notificationText,
		Image:      msg.Image,
		Timestamp:  msg.CreatedAt,
	})
	if err != nil {
		return RouteFanout, err
	}

	id, err := r.publisher.Publish(ctx, r.topic, payload)
	if err != nil {
		log.Error().Err(err).Str("topic", r.topic).Msg("publish to fan-out channel failed")
		return RouteFanout, err
	}
	log.Debug().Str("entry_id", id).Str("topic", r.topic).Msg("receiver offline, published")
	return RouteFanout, nil
}
