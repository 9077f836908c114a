package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"
	log "github.com/sirupsen/logrus"

	"github.com/elma1989/join/domain"
)

// PendingWrite is a document write that failed and waits for a replay.
type PendingWrite struct {
	Collection domain.Collection `json:"collection"`
	Op         domain.Op         `json:"op"`
	ID         string            `json:"id,omitempty"`
	Document   domain.Document   `json:"document,omitempty"`
	Attempt    int               `json:"attempt"`
	LastErr    string            `json:"lastErr,omitempty"`
	ParkedAt   time.Time         `json:"parkedAt"`
}

type queuedMessage struct {
	id      string
	receipt string
	text    string
}

type messageQueue interface {
	enqueue(ctx context.Context, text string) error
	dequeue(ctx context.Context) (*queuedMessage, error)
	delete(ctx context.Context, id, receipt string) error
}

// RetryQueue parks failed writes on a storage queue so they can be replayed
// later.
type RetryQueue struct {
	q      messageQueue
	logger *log.Logger
}

// NewRetryQueue connects to the named queue.
func NewRetryQueue(connStr, queueName string, logger *log.Logger) (*RetryQueue, error) {
	queueClientOptions := azqueue.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			Retry: policy.RetryOptions{
				MaxRetries:    5,
				TryTimeout:    time.Minute * 5,
				RetryDelay:    time.Second * 1,
				MaxRetryDelay: time.Second * 60,
				StatusCodes:   []int{408, 429, 500, 502, 503, 504},
			},
		},
	}
	cq, err := azqueue.NewQueueClientFromConnectionString(connStr, queueName, &queueClientOptions)
	if err != nil {
		return nil, err
	}
	return newRetryQueue(&azureQueue{client: cq}, logger), nil
}

func newRetryQueue(q messageQueue, logger *log.Logger) *RetryQueue {
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &RetryQueue{q: q, logger: logger}
}

// Park enqueues a failed write.
func (r *RetryQueue) Park(ctx context.Context, w PendingWrite) error {
	if w.ParkedAt.IsZero() {
		w.ParkedAt = time.Now().UTC()
	}
	data, err := sonic.Marshal(w)
	if err != nil {
		return err
	}
	return r.q.enqueue(ctx, string(data))
}

// Drain dequeues parked writes until the queue is empty and hands each to
// apply. Successfully applied messages are deleted; failed ones are re-parked
// with an increased attempt count. It returns the number of applied writes.
func (r *RetryQueue) Drain(ctx context.Context, apply func(context.Context, PendingWrite) error) (int, error) {
	applied := 0
	started := time.Now().UTC()
	for {
		if err := ctx.Err(); err != nil {
			return applied, err
		}
		msg, err := r.q.dequeue(ctx)
		if err != nil {
			return applied, err
		}
		if msg == nil {
			return applied, nil
		}
		var w PendingWrite
		if err := sonic.UnmarshalString(msg.text, &w); err != nil {
			r.logger.WithError(err).WithField("message", msg.id).Error("dropping unreadable parked write")
			if err := r.q.delete(ctx, msg.id, msg.receipt); err != nil {
				return applied, err
			}
			continue
		}
		if !w.ParkedAt.Before(started) {
			// Re-parked during this drain; leave it for the next run. Dequeue
			// hid it, so it reappears once the visibility timeout passes.
			return applied, nil
		}
		if applyErr := apply(ctx, w); applyErr != nil {
			w.Attempt++
			w.ParkedAt = time.Now().UTC()
			w.LastErr = applyErr.Error()
			r.logger.WithError(applyErr).WithFields(log.Fields{
				"collection": w.Collection,
				"op":         w.Op,
				"id":         w.ID,
				"attempt":    w.Attempt,
			}).Warn("parked write failed again")
			if err := r.Park(ctx, w); err != nil {
				return applied, err
			}
		} else {
			applied++
		}
		if err := r.q.delete(ctx, msg.id, msg.receipt); err != nil {
			return applied, err
		}
	}
}

type azureQueue struct {
	client *azqueue.QueueClient
}

func (a *azureQueue) enqueue(ctx context.Context, text string) error {
	_, err := a.client.EnqueueMessage(ctx, text, nil)
	return err
}

func (a *azureQueue) dequeue(ctx context.Context) (*queuedMessage, error) {
	resp, err := a.client.DequeueMessage(ctx, nil)
	if err != nil {
		return nil, err
	}
	if len(resp.Messages) == 0 {
		return nil, nil
	}
	m := resp.Messages[0]
	if m.MessageID == nil || m.PopReceipt == nil || m.MessageText == nil {
		return nil, nil
	}
	return &queuedMessage{id: *m.MessageID, receipt: *m.PopReceipt, text: *m.MessageText}, nil
}

func (a *azureQueue) delete(ctx context.Context, id, receipt string) error {
	_, err := a.client.DeleteMessage(ctx, id, receipt, nil)
	return err
}
