package tracking

import (
	"context"
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// ConsumerConfig tunes the long-poll loop.
type ConsumerConfig struct {
	QueueURL    string
	MaxMessages int32         // per receive, 1-10
	WaitTime    time.Duration // long-poll wait, up to 20s
	ErrorDelay  time.Duration // pause after a receive error
}

// ConsumerStats are cumulative counters.
type ConsumerStats struct {
	Received  int64 `json:"received"`
	Applied   int64 `json:"applied"`
	Unmatched int64 `json:"unmatched"`
	Malformed int64 `json:"malformed"`
	Failed    int64 `json:"failed"`
}

// Consumer drains queued response events into a ResponseHandler. A message
// is deleted once applied, unmatched or malformed; handler errors leave it
// on the queue for redelivery.
type Consumer struct {
	client  SQSAPI
	handler ResponseHandler
	cfg     ConsumerConfig
	log     *logger.Logger

	cancel context.CancelFunc
	wg     sync.WaitGroup

	received, applied, unmatched, malformed, failed atomic.Int64
}

func NewConsumer(client SQSAPI, handler ResponseHandler, cfg ConsumerConfig) *Consumer {
	if cfg.MaxMessages <= 0 || cfg.MaxMessages > 10 {
		cfg.MaxMessages = 10
	}
	if cfg.WaitTime <= 0 || cfg.WaitTime > 20*time.Second {
		cfg.WaitTime = 20 * time.Second
	}
	if cfg.ErrorDelay <= 0 {
		cfg.ErrorDelay = 5 * time.Second
	}
	return &Consumer{client: client, handler: handler, cfg: cfg, log: logger.Named("tracking-consumer")}
}

// Start launches the poll loop. It runs until ctx is done or Stop is called.
func (c *Consumer) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	c.log.Info("sqs response consumer started", "queue", c.cfg.QueueURL)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		c.poll(ctx)
	}()
}

// Stop cancels the loop and waits for the in-flight batch.
func (c *Consumer) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	c.log.Info("sqs response consumer stopped")
}

func (c *Consumer) Stats() ConsumerStats {
	return ConsumerStats{
		Received:  c.received.Load(),
		Applied:   c.applied.Load(),
		Unmatched: c.unmatched.Load(),
		Malformed: c.malformed.Load(),
		Failed:    c.failed.Load(),
	}
}

func (c *Consumer) poll(ctx context.Context) {
	for ctx.Err() == nil {
		if _, err := c.PollOnce(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			c.log.Warn("sqs receive failed", "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(c.cfg.ErrorDelay):
			}
		}
	}
}

// PollOnce receives one batch and processes it. It returns the number of
// messages received.
func (c *Consumer) PollOnce(ctx context.Context) (int, error) {
	out, err := c.client.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            aws.String(c.cfg.QueueURL),
		MaxNumberOfMessages: c.cfg.MaxMessages,
		WaitTimeSeconds:     int32(c.cfg.WaitTime / time.Second),
	})
	if err != nil {
		return 0, err
	}
	for _, msg := range out.Messages {
		c.received.Add(1)
		if c.process(ctx, msg) {
			c.delete(ctx, msg.ReceiptHandle)
		}
	}
	return len(out.Messages), nil
}

// process reports whether msg is finished with and may be deleted.
func (c *Consumer) process(ctx context.Context, msg types.Message) bool {
	var ev domain.ResponseEvent
	if err := json.Unmarshal([]byte(aws.ToString(msg.Body)), &ev); err != nil {
		c.malformed.Add(1)
		c.log.Warn("dropping malformed response event", "message_id", aws.ToString(msg.MessageId), "error", err)
		return true
	}
	_, err := c.handler.HandleResponse(ctx, ev)
	switch {
	case err == nil:
		c.applied.Add(1)
		return true
	case unmatched(err):
		c.unmatched.Add(1)
		c.log.Info("response event matches no attempt", "kind", ev.Kind, "provider_ref", ev.ProviderRef, "attempt_id", ev.AttemptID)
		return true
	default:
		c.failed.Add(1)
		c.log.Error("response event failed", "kind", ev.Kind, "attempt_id", ev.AttemptID, "error", err)
		return false
	}
}

func (c *Consumer) delete(ctx context.Context, handle *string) {
	_, err := c.client.DeleteMessage(context.WithoutCancel(ctx), &sqs.DeleteMessageInput{
		QueueUrl:      aws.String(c.cfg.QueueURL),
		ReceiptHandle: handle,
	})
	if err != nil {
		c.log.Warn("sqs delete failed", "error", err)
	}
}
