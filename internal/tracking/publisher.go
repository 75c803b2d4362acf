// Package tracking receives channel callbacks (delivery receipts, bounces,
// replies, response-link clicks) and routes them to the campaign service,
// either directly or through an SQS queue drained by Consumer.
package tracking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/ignite/provider-outreach/internal/domain"
	"github.com/ignite/provider-outreach/internal/outreach"
	"github.com/ignite/provider-outreach/internal/pkg/logger"
)

// ResponseHandler applies a callback to its attempt and campaign.
// *campaign.Service satisfies it.
type ResponseHandler interface {
	HandleResponse(ctx context.Context, ev domain.ResponseEvent) (domain.OutreachAttempt, error)
}

// Sink accepts a normalized response event.
type Sink interface {
	Submit(ctx context.Context, ev domain.ResponseEvent) error
}

// Direct applies events in the request path.
type Direct struct {
	h ResponseHandler
}

func NewDirect(h ResponseHandler) *Direct { return &Direct{h: h} }

func (d *Direct) Submit(ctx context.Context, ev domain.ResponseEvent) error {
	_, err := d.h.HandleResponse(ctx, ev)
	return err
}

// SQSAPI is the part of the SQS client the publisher and consumer use.
type SQSAPI interface {
	SendMessage(ctx context.Context, in *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
	ReceiveMessage(ctx context.Context, in *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, in *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
}

// Publisher enqueues events for the worker. Unlike a fire-and-forget
// publish, Submit returns the SQS error so the webhook caller redelivers.
type Publisher struct {
	client   SQSAPI
	queueURL string
}

func NewPublisher(client SQSAPI, queueURL string) *Publisher {
	return &Publisher{client: client, queueURL: queueURL}
}

func (p *Publisher) Submit(ctx context.Context, ev domain.ResponseEvent) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal response event: %w", err)
	}
	_, err = p.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(p.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"kind": {DataType: aws.String("String"), StringValue: aws.String(string(ev.Kind))},
		},
	})
	if err != nil {
		return fmt.Errorf("publish response event: %w", err)
	}
	logger.Debug("response event queued", "kind", ev.Kind, "attempt_id", ev.AttemptID, "provider_ref", ev.ProviderRef)
	return nil
}

// unmatched reports whether err means the event names no known attempt.
// Such events are dropped rather than redelivered.
func unmatched(err error) bool {
	return errors.Is(err, outreach.ErrAttemptNotFound)
}
