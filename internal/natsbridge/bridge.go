// Package natsbridge accepts dispatch messages over NATS request/reply.
// Each request body is one dispatch message; the reply carries its
// acknowledgement.
package natsbridge

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/cloud-shuttle/fieldsync/internal/logging"
)

// QueueGroup spreads requests across fieldsync instances
const QueueGroup = "fieldsync"

// HeaderStatus carries an HTTP-like status code on every reply
const HeaderStatus = "Fieldsync-Status"

const handleTimeout = 30 * time.Second

// Handler processes one dispatch message
type Handler interface {
	Handle(ctx context.Context, body []byte) ([]byte, error)
}

// Bridge subscribes a Handler to a subject
type Bridge struct {
	nc      *nats.Conn
	subject string
	handler Handler
	logger  *slog.Logger
	sub     *nats.Subscription
}

// Connect opens a NATS connection that keeps reconnecting
func Connect(url string) (*nats.Conn, error) {
	nc, err := nats.Connect(url,
		nats.Name("fieldsync"),
		nats.ReconnectWait(2*time.Second),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, fmt.Errorf("connecting to NATS at %s: %w", url, err)
	}
	return nc, nil
}

// New creates a bridge on an open connection
func New(nc *nats.Conn, subject string, h Handler, logger *slog.Logger) *Bridge {
	return &Bridge{
		nc:      nc,
		subject: subject,
		handler: h,
		logger:  logging.Component(logger, "natsbridge"),
	}
}

// Start subscribes to the subject
func (b *Bridge) Start() error {
	sub, err := b.nc.QueueSubscribe(b.subject, QueueGroup, b.onMessage)
	if err != nil {
		return fmt.Errorf("subscribing to %s: %w", b.subject, err)
	}
	b.sub = sub
	b.logger.Info("listening for dispatch messages", "subject", b.subject)
	return nil
}

// Stop drains the subscription and the connection
func (b *Bridge) Stop() error {
	if b.sub != nil {
		if err := b.sub.Drain(); err != nil {
			b.logger.Warn("draining subscription failed", "error", err)
		}
	}
	return b.nc.Drain()
}

func (b *Bridge) onMessage(msg *nats.Msg) {
	ctx, cancel := context.WithTimeout(context.Background(), handleTimeout)
	defer cancel()

	status, body := b.process(ctx, msg.Data)
	if msg.Reply == "" {
		return
	}
	reply := nats.NewMsg(msg.Reply)
	reply.Header.Set(HeaderStatus, strconv.Itoa(status))
	reply.Data = body
	if err := msg.RespondMsg(reply); err != nil {
		b.logger.Error("replying to dispatch message failed", "error", err)
	}
}

// process returns the status and reply body for one request
func (b *Bridge) process(ctx context.Context, data []byte) (int, []byte) {
	ack, err := b.handler.Handle(ctx, data)
	if err != nil {
		return 400, []byte(err.Error())
	}
	return 200, ack
}
