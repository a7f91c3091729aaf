package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

// NATSBus publishes status events on <prefix>.<kind>.status.
type NATSBus struct {
	conn   *nats.Conn
	prefix string
	logger *zap.Logger
}

func NewNATSBus(url, prefix string, logger *zap.Logger) (*NATSBus, error) {
	conn, err := nats.Connect(url,
		nats.Name("cascade"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warn("NATS disconnected", zap.Error(err))
			}
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	logger.Info("NATS event bus connected", zap.String("url", url), zap.String("prefix", prefix))
	return &NATSBus{conn: conn, prefix: prefix, logger: logger}, nil
}

func Subject(prefix, kind string) string {
	return fmt.Sprintf("%s.%s.status", prefix, kind)
}

func (b *NATSBus) Publish(_ context.Context, evt StatusChanged) error {
	if evt.Timestamp.IsZero() {
		evt.Timestamp = time.Now()
	}
	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := b.conn.Publish(Subject(b.prefix, evt.Kind), data); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	return nil
}

func (b *NATSBus) Close() error {
	if err := b.conn.Drain(); err != nil {
		b.conn.Close()
		return err
	}
	return nil
}
