package storage

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"github.com/sogeor/flow/domain"
)

const receiptSeparator = "|"

var errBadReceipt = errors.New("malformed intent receipt")

// QueueIntentLog journals cascades in an Azure Storage queue. Begin enqueues
// the intent hidden for resumeAfter; Complete deletes it. A cascade that
// never completes surfaces to the sweeper once the message becomes visible.
type QueueIntentLog struct {
	queue       intentQueue
	resumeAfter time.Duration
}

var _ domain.IntentLog = (*QueueIntentLog)(nil)

// intentQueue is the subset of *azqueue.QueueClient the log uses.
type intentQueue interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
	DequeueMessage(ctx context.Context, o *azqueue.DequeueMessageOptions) (azqueue.DequeueMessagesResponse, error)
	DeleteMessage(ctx context.Context, messageID, popReceipt string, o *azqueue.DeleteMessageOptions) (azqueue.DeleteMessageResponse, error)
}

// PendingIntent is an intent handed to the sweeper.
type PendingIntent struct {
	Intent       domain.CascadeIntent
	Receipt      string
	DequeueCount int64
}

func NewQueueIntentLog(connStr, queueName string, resumeAfter time.Duration) (*QueueIntentLog, error) {
	opts := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute,
				RetryDelay:    time.Second,
				MaxRetryDelay: 30 * time.Second,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	q, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &opts)
	if err != nil {
		return nil, err
	}
	return &QueueIntentLog{queue: q, resumeAfter: resumeAfter}, nil
}

func (l *QueueIntentLog) Begin(ctx context.Context, intent domain.CascadeIntent) (string, error) {
	text, err := encodeIntent(intent)
	if err != nil {
		return "", err
	}
	visibility := int32(l.resumeAfter / time.Second)
	ttl := int32(-1)
	resp, err := l.queue.EnqueueMessage(ctx, text, &azqueue.EnqueueMessageOptions{
		VisibilityTimeout: &visibility,
		TimeToLive:        &ttl,
	})
	if err != nil {
		return "", err
	}
	if len(resp.Messages) == 0 || resp.Messages[0].MessageID == nil || resp.Messages[0].PopReceipt == nil {
		return "", errors.New("enqueue returned no message receipt")
	}
	return joinReceipt(*resp.Messages[0].MessageID, *resp.Messages[0].PopReceipt), nil
}

func (l *QueueIntentLog) Complete(ctx context.Context, receipt string) error {
	if receipt == "" {
		return nil
	}
	id, pop, err := splitReceipt(receipt)
	if err != nil {
		return err
	}
	if _, err := l.queue.DeleteMessage(ctx, id, pop, nil); err != nil {
		var respErr *azcore.ResponseError
		if errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound {
			return nil
		}
		return err
	}
	return nil
}

// Next leases the next visible intent for lease, or returns nil when the
// queue is empty.
func (l *QueueIntentLog) Next(ctx context.Context, lease time.Duration) (*PendingIntent, error) {
	visibility := int32(lease / time.Second)
	resp, err := l.queue.DequeueMessage(ctx, &azqueue.DequeueMessageOptions{VisibilityTimeout: &visibility})
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	msg := resp.Messages[0]
	if msg.MessageID == nil || msg.PopReceipt == nil {
		return nil, errors.New("dequeued message without receipt")
	}
	p := &PendingIntent{Receipt: joinReceipt(*msg.MessageID, *msg.PopReceipt)}
	if msg.DequeueCount != nil {
		p.DequeueCount = *msg.DequeueCount
	}
	if msg.MessageText == nil {
		return p, fmt.Errorf("intent %s has no body", *msg.MessageID)
	}
	intent, err := decodeIntent(*msg.MessageText)
	if err != nil {
		return p, fmt.Errorf("intent %s: %w", *msg.MessageID, err)
	}
	p.Intent = intent
	return p, nil
}

func encodeIntent(intent domain.CascadeIntent) (string, error) {
	return sonic.MarshalString(intent)
}

func decodeIntent(text string) (domain.CascadeIntent, error) {
	var intent domain.CascadeIntent
	if err := sonic.UnmarshalString(text, &intent); err != nil {
		return domain.CascadeIntent{}, err
	}
	switch intent.Kind {
	case domain.CascadeBoard, domain.CascadeAccount:
	default:
		return domain.CascadeIntent{}, fmt.Errorf("unknown cascade kind %q", intent.Kind)
	}
	if intent.RootID == "" {
		return domain.CascadeIntent{}, errors.New("intent without root id")
	}
	return intent, nil
}

func joinReceipt(id, pop string) string {
	return id + receiptSeparator + pop
}

func splitReceipt(receipt string) (string, string, error) {
	id, pop, ok := strings.Cut(receipt, receiptSeparator)
	if !ok || id == "" || pop == "" {
		return "", "", errBadReceipt
	}
	return id, pop, nil
}
