package gatehouse

import (
	"context"
	"fmt"

	"github.com/gatehouse-dev/gatehouse/gatehousejson"
	mqclients "github.com/gatehouse-dev/gatehouse/messaging"
)

// Producer publishes reconciled events downstream.
type Producer interface {
	Publish(ctx context.Context, event *Event) error
	Close() error
}

// noopProducer is used when no producer is configured; events are only
// delivered to in-process listeners.
type noopProducer struct{}

func (noopProducer) Publish(_ context.Context, _ *Event) error { return nil }

func (noopProducer) Close() error { return nil }

// mqProducer bridges events onto a message queue backend, one subject per
// event type.
type mqProducer struct {
	client mqclients.Client
}

func (p *mqProducer) Publish(ctx context.Context, event *Event) error {
	data, err := gatehousejson.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	return p.client.Publish(ctx, string(event.Type), data)
}

func (p *mqProducer) Close() error {
	return p.client.Close()
}

// NewProducer connects the configured message queue backend. An empty type
// yields a no-op producer.
func NewProducer(ctx context.Context, clientName string, configuration ProducerConfiguration) (Producer, error) {
	if configuration.Type == "" {
		return noopProducer{}, nil
	}

	var client mqclients.Client

	switch configuration.Type {
	case "jetstream":
		client = &mqclients.JetStreamMQClient{}
	case "kafka":
		client = &mqclients.KafkaMQClient{}
	case "redis":
		client = &mqclients.RedisMQClient{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProducer, configuration.Type)
	}

	err := client.Connect(ctx, clientName, configuration.Address, configuration.Channel)
	if err != nil {
		return nil, fmt.Errorf("failed to connect producer: %w", err)
	}

	return &mqProducer{
		client: client,
	}, nil
}
