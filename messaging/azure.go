package messaging

import (
	"context"

	"github.com/Azure/azure-sdk-for-go/sdk/messaging/azservicebus"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"example.com/platform/services/eventcore/config"
)

// AzurePublisher delivers outbox payloads to an Azure Service Bus queue. The
// event type travels as the message subject so consumers can route without
// parsing the body.
type AzurePublisher struct {
	client    *azservicebus.Client
	sender    *azservicebus.Sender
	queueName string
}

func NewAzurePublisher(cfg config.Config) (*AzurePublisher, error) {
	client, err := azservicebus.NewClientFromConnectionString(cfg.AzureQueueConnStr, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus client")
	}

	sender, err := client.NewSender(cfg.AzureOutboxQueueName, nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create service bus sender")
	}

	log.Info().Str("queue", cfg.AzureOutboxQueueName).Msg("Connected to Azure Service Bus")
	return &AzurePublisher{
		client:    client,
		sender:    sender,
		queueName: cfg.AzureOutboxQueueName,
	}, nil
}

func (p *AzurePublisher) Publish(ctx context.Context, topic string, payload []byte) error {
	message := &azservicebus.Message{
		Body:    payload,
		Subject: &topic,
	}
	if err := p.sender.SendMessage(ctx, message, nil); err != nil {
		return errors.Wrapf(err, "failed to send message to queue %s", p.queueName)
	}
	return nil
}

func (p *AzurePublisher) Close(ctx context.Context) error {
	if err := p.sender.Close(ctx); err != nil {
		log.Error().Err(err).Msg("Error closing service bus sender")
	}
	return p.client.Close(ctx)
}
