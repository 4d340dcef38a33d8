package storage

import (
	"context"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azqueue"
	"github.com/bytedance/sonic"

	"focusflow-api/domain"
)

type queueClient interface {
	EnqueueMessage(ctx context.Context, content string, o *azqueue.EnqueueMessageOptions) (azqueue.EnqueueMessagesResponse, error)
}

// ActivityQueue publishes activity records as JSON messages on an Azure
// storage queue.
type ActivityQueue struct {
	queue queueClient
	ttl   *int32
}

// NewActivityQueue connects to the named queue. A positive ttl bounds how long
// undelivered records stay on the queue.
func NewActivityQueue(connStr, queue string, ttl time.Duration) (*ActivityQueue, error) {
	opts := azqueue.ClientOptions{
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
	qc, err := azqueue.NewQueueClientFromConnectionString(connStr, queue, &opts)
	if err != nil {
		return nil, err
	}
	return newActivityQueue(qc, ttl), nil
}

func newActivityQueue(q queueClient, ttl time.Duration) *ActivityQueue {
	aq := &ActivityQueue{queue: q}
	if ttl > 0 {
		secs := int32(ttl / time.Second)
		aq.ttl = &secs
	}
	return aq
}

// Publish enqueues one record.
func (q *ActivityQueue) Publish(ctx context.Context, a domain.Activity) error {
	data, err := sonic.MarshalString(a)
	if err != nil {
		return err
	}
	var opts *azqueue.EnqueueMessageOptions
	if q.ttl != nil {
		opts = &azqueue.EnqueueMessageOptions{TimeToLive: q.ttl}
	}
	if _, err := q.queue.EnqueueMessage(ctx, data, opts); err != nil {
		return classifyTableErr(err)
	}
	return nil
}
