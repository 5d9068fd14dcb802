package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue/queueerror"
)

// AzureQueue adapts an azqueue client to Receiver and Sender.
type AzureQueue struct {
	client *azqueue.QueueClient
	name   string
}

// NewServiceClient connects with a connection string when one is given and
// with the ambient credential otherwise.
func NewServiceClient(serviceURL, connectionString string, cred azcore.TokenCredential) (*azqueue.ServiceClient, error) {
	if connectionString != "" {
		return azqueue.NewServiceClientFromConnectionString(connectionString, nil)
	}
	if serviceURL == "" {
		return nil, fmt.Errorf("queue service url is required without a connection string")
	}
	return azqueue.NewServiceClient(serviceURL+"/", cred, nil)
}

// NewAzureQueue returns the named queue of svc.
func NewAzureQueue(svc *azqueue.ServiceClient, name string) *AzureQueue {
	return &AzureQueue{client: svc.NewQueueClient(name), name: name}
}

// Name returns the queue name.
func (q *AzureQueue) Name() string {
	return q.name
}

// Ensure creates the queue if it does not exist yet.
func (q *AzureQueue) Ensure(ctx context.Context) error {
	_, err := q.client.Create(ctx, nil)
	if err != nil && !queueerror.HasCode(err, queueerror.QueueAlreadyExists) {
		return fmt.Errorf("create queue %s: %w", q.name, err)
	}
	return nil
}

// Receive dequeues up to max messages and hides them for visibility.
func (q *AzureQueue) Receive(ctx context.Context, max int32, visibility time.Duration) ([]Message, error) {
	resp, err := q.client.DequeueMessages(ctx, &azqueue.DequeueMessagesOptions{
		NumberOfMessages:  to.Ptr(max),
		VisibilityTimeout: to.Ptr(int32(visibility / time.Second)),
	})
	if err != nil {
		return nil, fmt.Errorf("dequeue from %s: %w", q.name, err)
	}

	messages := make([]Message, 0, len(resp.Messages))
	for _, m := range resp.Messages {
		if m == nil {
			continue
		}
		msg := Message{}
		if m.MessageID != nil {
			msg.ID = *m.MessageID
		}
		if m.PopReceipt != nil {
			msg.PopReceipt = *m.PopReceipt
		}
		if m.MessageText != nil {
			msg.Text = *m.MessageText
		}
		if m.DequeueCount != nil {
			msg.DequeueCount = *m.DequeueCount
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Delete removes a processed message.
func (q *AzureQueue) Delete(ctx context.Context, msg Message) error {
	if _, err := q.client.DeleteMessage(ctx, msg.ID, msg.PopReceipt, nil); err != nil {
		return fmt.Errorf("delete message %s from %s: %w", msg.ID, q.name, err)
	}
	return nil
}

// Send enqueues text unchanged.
func (q *AzureQueue) Send(ctx context.Context, text string) error {
	if _, err := q.client.EnqueueMessage(ctx, text, nil); err != nil {
		return fmt.Errorf("enqueue to %s: %w", q.name, err)
	}
	return nil
}
