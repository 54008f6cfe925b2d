// Package sqs is the alternate control-stream transport for deployments
// that bridge primary and backup across regions via AWS SQS rather than a
// direct AMQP link. It is adapted from this codebase's queue/sqs client:
// same ReceiveMessage/DeleteMessage polling loop and consumer lifecycle,
// repurposed to deliver replicator.Message values instead of application
// payloads.
package sqs

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/rs/zerolog/log"

	"go.brokerha.dev/internal/ha/metrics"
	"go.brokerha.dev/internal/ha/replicator"
)

// ClientAPI is the subset of the SQS SDK this transport calls, so tests can
// substitute a fake.
type ClientAPI interface {
	ReceiveMessage(ctx context.Context, params *sqs.ReceiveMessageInput, optFns ...func(*sqs.Options)) (*sqs.ReceiveMessageOutput, error)
	DeleteMessage(ctx context.Context, params *sqs.DeleteMessageInput, optFns ...func(*sqs.Options)) (*sqs.DeleteMessageOutput, error)
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// Config holds the queue settings for one source-queue bridge.
type Config struct {
	QueueURL            string
	Region              string
	WaitTimeSeconds      int32
	VisibilityTimeout    int32
	MaxNumberOfMessages int32
}

func (c *Config) applyDefaults() {
	if c.WaitTimeSeconds == 0 {
		c.WaitTimeSeconds = 20
	}
	if c.VisibilityTimeout == 0 {
		c.VisibilityTimeout = 30
	}
	if c.MaxNumberOfMessages == 0 {
		c.MaxNumberOfMessages = 10
	}
}

// wireMessage is the JSON envelope this transport uses to carry a
// replicator.Message body and routing key over a medium, SQS, that has no
// native notion of an AMQP routing key.
type wireMessage struct {
	RoutingKey string `json:"routingKey"`
	Body       []byte `json:"body"`
}

// Client polls one or more SQS queues, each bridged to a single backup-side
// QueueReplicator.
type Client struct {
	sqs       ClientAPI
	mu        sync.Mutex
	consumers map[string]*consumer
}

// NewClient builds a Client using the default AWS config chain (region,
// credentials) for region.
func NewClient(ctx context.Context, region string) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return &Client{sqs: sqs.NewFromConfig(awsCfg), consumers: make(map[string]*consumer)}, nil
}

// NewClientWithEndpoint builds a Client against a custom endpoint
// (LocalStack) using static credentials, for integration testing.
func NewClientWithEndpoint(ctx context.Context, region, endpoint, accessKey, secretKey string) (*Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(accessKey, secretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	client := sqs.NewFromConfig(awsCfg, func(o *sqs.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	})
	return &Client{sqs: client, consumers: make(map[string]*consumer)}, nil
}

type consumer struct {
	cfg    Config
	rep    *replicator.QueueReplicator
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// Bridge starts polling cfg.QueueURL and dispatching every message it
// receives to rep, deleting it on success. sourceQueue names the metrics
// label only; routing happens on the wire envelope's RoutingKey.
func (c *Client) Bridge(ctx context.Context, sourceQueue string, cfg Config, rep *replicator.QueueReplicator) {
	cfg.applyDefaults()
	cctx, cancel := context.WithCancel(ctx)
	cons := &consumer{cfg: cfg, rep: rep, cancel: cancel}

	c.mu.Lock()
	c.consumers[sourceQueue] = cons
	c.mu.Unlock()

	cons.wg.Add(1)
	go c.pollLoop(cctx, sourceQueue, cons)
}

func (c *Client) pollLoop(ctx context.Context, sourceQueue string, cons *consumer) {
	defer cons.wg.Done()
	for {
		select {
		case <-ctx.Done():
			log.Info().Str("queue", sourceQueue).Msg("SQS control-stream consumer stopped")
			return
		default:
		}

		out, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
			QueueUrl:            &cons.cfg.QueueURL,
			WaitTimeSeconds:     cons.cfg.WaitTimeSeconds,
			VisibilityTimeout:   cons.cfg.VisibilityTimeout,
			MaxNumberOfMessages: cons.cfg.MaxNumberOfMessages,
		})
		if err != nil {
			log.Error().Err(err).Str("queue", sourceQueue).Msg("Failed to poll SQS control-stream queue")
			time.Sleep(time.Second)
			continue
		}

		for _, m := range out.Messages {
			var wire wireMessage
			if err := json.Unmarshal([]byte(*m.Body), &wire); err != nil {
				log.Error().Err(err).Str("queue", sourceQueue).Msg("Failed to decode control-stream envelope")
				continue
			}
			if err := cons.rep.Dispatch(replicator.Message{RoutingKey: wire.RoutingKey, Body: wire.Body}); err != nil {
				metrics.ReplicatorEventsProcessed.WithLabelValues(sourceQueue, "dispatch", "error").Inc()
				log.Error().Err(err).Str("queue", sourceQueue).Msg("Failed to dispatch control-stream message")
				continue
			}
			if _, err := c.sqs.DeleteMessage(ctx, &sqs.DeleteMessageInput{
				QueueUrl:      &cons.cfg.QueueURL,
				ReceiptHandle: m.ReceiptHandle,
			}); err != nil {
				log.Error().Err(err).Str("queue", sourceQueue).Msg("Failed to delete processed control-stream message")
			}
		}
	}
}

// CheckConnectivity probes one bridged queue with a single zero-wait
// ReceiveMessage call, satisfying health.ConnectivityChecker. A message the
// probe receives is not dispatched; it becomes visible again once the
// queue's visibility timeout expires. It reports healthy with no bridges
// configured yet, matching the embedded-queue-type convention this is
// adapted from.
func (c *Client) CheckConnectivity(ctx context.Context) error {
	c.mu.Lock()
	var queueURL string
	for _, cons := range c.consumers {
		queueURL = cons.cfg.QueueURL
		break
	}
	c.mu.Unlock()
	if queueURL == "" {
		return nil
	}
	_, err := c.sqs.ReceiveMessage(ctx, &sqs.ReceiveMessageInput{
		QueueUrl:            &queueURL,
		MaxNumberOfMessages: 1,
		WaitTimeSeconds:     0,
	})
	if err != nil {
		return fmt.Errorf("probe sqs control-stream queue: %w", err)
	}
	return nil
}

// Close stops every bridged consumer and waits for its poll loop to exit.
func (c *Client) Close() {
	c.mu.Lock()
	conss := make([]*consumer, 0, len(c.consumers))
	for _, cons := range c.consumers {
		conss = append(conss, cons)
	}
	c.mu.Unlock()

	for _, cons := range conss {
		cons.cancel()
		cons.wg.Wait()
	}
}
