// Package messaging receives checkpoints from Azure Service Bus
package messaging

import (
	"context"
	"encoding/json"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/AurelienDEMEUSY/SUI-patreon/config"
	"github.com/AurelienDEMEUSY/SUI-patreon/internal/checkpoint"
)

// BatchProcessor commits checkpoints in ascending sequence order. It returns
// how many leading checkpoints of cps are durably handled, even on error.
type BatchProcessor interface {
	ProcessBatch(ctx context.Context, cps []*checkpoint.Checkpoint) (int, error)
}

// SessionReceiver is the subset of *azservicebus.SessionReceiver used here
type SessionReceiver interface {
	SessionID() string
	ReceiveMessages(ctx context.Context, maxMessages int, options *azservicebus.ReceiveMessagesOptions) ([]*azservicebus.ReceivedMessage, error)
	CompleteMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.CompleteMessageOptions) error
	AbandonMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.AbandonMessageOptions) error
	DeadLetterMessage(ctx context.Context, message *azservicebus.ReceivedMessage, options *azservicebus.DeadLetterOptions) error
	Close(ctx context.Context) error
}

// AzureClient consumes checkpoint messages from a session enabled queue.
// Sessions are handled one at a time so that commits stay ordered.
type AzureClient struct {
	client    *azservicebus.Client
	queueName string
	batchSize int
}

// NewAzureClient creates a new Service Bus consumer
func NewAzureClient(cfg config.AzureConfig, batchSize int) (*AzureClient, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.QueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create Service Bus client")
	}

	return &AzureClient{
		client:    client,
		queueName: cfg.QueueName,
		batchSize: batchSize,
	}, nil
}

// Start accepts sessions until ctx is cancelled
func (a *AzureClient) Start(ctx context.Context, processor BatchProcessor) error {
	log.Info().Str("queue", a.queueName).Msg("Starting checkpoint consumer")

	for {
		if ctx.Err() != nil {
			return nil
		}

		receiver, err := a.client.AcceptNextSessionForQueue(ctx, a.queueName, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			var sbErr *azservicebus.Error
			if errors.As(err, &sbErr) && sbErr.Code == azservicebus.CodeTimeout {
				log.Debug().Msg("No session available, waiting...")
				sleep(ctx, 2*time.Second)
				continue
			}
			return errors.Wrap(err, "failed to accept session")
		}

		log.Info().Str("session", receiver.SessionID()).Msg("Session received")
		if err := HandleSession(ctx, receiver, processor, a.batchSize); err != nil {
			log.Error().Err(err).Str("session", receiver.SessionID()).Msg("Session aborted")
			sleep(ctx, time.Second)
		}
	}
}

// Close closes the Service Bus client
func (a *AzureClient) Close(ctx context.Context) error {
	return a.client.Close(ctx)
}

// HandleSession drains a session in batches. Messages are completed only
// after their checkpoint is committed and abandoned otherwise. It returns
// when the session is empty, ctx is done, or a batch fails.
func HandleSession(ctx context.Context, receiver SessionReceiver, processor BatchProcessor, batchSize int) error {
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := receiver.Close(closeCtx); err != nil {
			log.Error().Err(err).Str("session", receiver.SessionID()).Msg("Error closing session")
		}
	}()

	for {
		if ctx.Err() != nil {
			return nil
		}

		messages, err := receiver.ReceiveMessages(ctx, batchSize, nil)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "failed to receive messages")
		}
		if len(messages) == 0 {
			return nil
		}

		if err := handleBatch(ctx, receiver, processor, messages); err != nil {
			return err
		}
	}
}

type delivery struct {
	message    *azservicebus.ReceivedMessage
	checkpoint *checkpoint.Checkpoint
}

func handleBatch(ctx context.Context, receiver SessionReceiver, processor BatchProcessor, messages []*azservicebus.ReceivedMessage) error {
	deliveries := make([]delivery, 0, len(messages))
	for _, msg := range messages {
		var cp checkpoint.Checkpoint
		if err := json.Unmarshal(msg.Body, &cp); err != nil {
			log.Error().Err(err).Str("message_id", msg.MessageID).Msg("Dead-lettering undecodable checkpoint message")
			reason := "undecodable checkpoint"
			desc := err.Error()
			if err := receiver.DeadLetterMessage(ctx, msg, &azservicebus.DeadLetterOptions{
				Reason:           &reason,
				ErrorDescription: &desc,
			}); err != nil {
				log.Error().Err(err).Str("message_id", msg.MessageID).Msg("DeadLetterMessage failed")
			}
			continue
		}
		deliveries = append(deliveries, delivery{message: msg, checkpoint: &cp})
	}
	if len(deliveries) == 0 {
		return nil
	}

	sort.SliceStable(deliveries, func(i, j int) bool {
		return deliveries[i].checkpoint.SequenceNumber < deliveries[j].checkpoint.SequenceNumber
	})

	cps := make([]*checkpoint.Checkpoint, len(deliveries))
	for i, d := range deliveries {
		cps[i] = d.checkpoint
	}

	done, procErr := processor.ProcessBatch(ctx, cps)

	for i, d := range deliveries {
		if i < done {
			if err := receiver.CompleteMessage(ctx, d.message, nil); err != nil {
				log.Error().Err(err).Str("message_id", d.message.MessageID).Msg("CompleteMessage failed")
			}
			continue
		}
		if err := receiver.AbandonMessage(ctx, d.message, nil); err != nil {
			log.Error().Err(err).Str("message_id", d.message.MessageID).Msg("AbandonMessage failed")
		}
	}

	if procErr != nil {
		return errors.Wrapf(procErr, "batch failed after %d of %d checkpoints", done, len(deliveries))
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
