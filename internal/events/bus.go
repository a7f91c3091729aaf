// Package events publishes article and task status changes.
package events

import (
	"context"
	"time"
)

const (
	KindArticle = "article"
	KindTask    = "task"
)

// StatusChanged is emitted whenever an article or task changes status.
type StatusChanged struct {
	Kind      string    `json:"kind"`
	ID        uint      `json:"id"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Bus delivers status events. Publishing is best-effort.
type Bus interface {
	Publish(ctx context.Context, evt StatusChanged) error
	Close() error
}

// NopBus drops every event.
type NopBus struct{}

func (NopBus) Publish(context.Context, StatusChanged) error { return nil }
func (NopBus) Close() error                                { return nil }
