// Package queue drains blob-created notifications from a storage queue and
// feeds them to the pipeline.
package queue

import (
	"context"
	"time"
)

// MaxBatch is the largest number of messages the storage queue service
// returns from one dequeue call.
const MaxBatch = 32

// Message is one dequeued notification.
type Message struct {
	ID           string
	PopReceipt   string
	Text         string
	DequeueCount int64
}

// Receiver is the subset of queue operations the worker needs from the
// source queue.
type Receiver interface {
	Receive(ctx context.Context, max int32, visibility time.Duration) ([]Message, error)
	Delete(ctx context.Context, msg Message) error
}

// Sender accepts messages that have been retried too often.
type Sender interface {
	Send(ctx context.Context, text string) error
}

// PoisonName is the queue that receives messages after MaxDequeueCount
// failed deliveries.
func PoisonName(queueName string) string {
	return queueName + "-poison"
}
