package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/acme/campaign-engine/internal/config"
)

const (
	defaultEventPartitions = 12
	dialTimeout            = 10 * time.Second
)

// Kafka builds the readers and writers for the call event topic.
type Kafka struct {
	cfg config.KafkaConfig
}

// NewKafka validates the broker list and returns the helper. No connection is
// opened until a reader, writer or Ping needs one.
func NewKafka(cfg config.KafkaConfig) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("kafka: no brokers configured")
	}
	if cfg.EventTopic == "" {
		return nil, fmt.Errorf("kafka: event topic is empty")
	}
	return &Kafka{cfg: cfg}, nil
}

// EventWriter returns a synchronous writer for call events. Messages are
// keyed by campaign id and hashed onto partitions.
func (k *Kafka) EventWriter() *kafka.Writer {
	return &kafka.Writer{
		Addr:         kafka.TCP(k.cfg.Brokers...),
		Topic:        k.cfg.EventTopic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireAll,
		BatchTimeout: 10 * time.Millisecond,
		Transport:    &kafka.Transport{ClientID: k.cfg.ClientID},
	}
}

// EventReader returns a consumer-group reader on the call event topic. The
// group id is the configured prefix joined with the consumer name.
func (k *Kafka) EventReader(consumer string) *kafka.Reader {
	return kafka.NewReader(k.readerConfig(consumer))
}

func (k *Kafka) readerConfig(consumer string) kafka.ReaderConfig {
	group := k.cfg.ConsumerGroupID
	if consumer != "" {
		group += "-" + consumer
	}
	return kafka.ReaderConfig{
		Brokers:        k.cfg.Brokers,
		Topic:          k.cfg.EventTopic,
		GroupID:        group,
		StartOffset:    kafka.FirstOffset,
		CommitInterval: k.cfg.CommitInterval,
		MinBytes:       1e3,
		MaxBytes:       10e6,
	}
}

// Ping dials the first reachable broker.
func (k *Kafka) Ping(ctx context.Context) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	return conn.Close()
}

// EnsureEventTopic creates the call event topic when the cluster does not
// know it yet.
func (k *Kafka) EnsureEventTopic(ctx context.Context) error {
	conn, err := k.dial(ctx)
	if err != nil {
		return err
	}
	defer conn.Close()

	partitions, err := conn.ReadPartitions()
	if err != nil {
		return fmt.Errorf("kafka: read partitions: %w", err)
	}
	for _, p := range partitions {
		if p.Topic == k.cfg.EventTopic {
			return nil
		}
	}

	count := k.cfg.EventPartitions
	if count <= 0 {
		count = defaultEventPartitions
	}
	if err := conn.CreateTopics(kafka.TopicConfig{
		Topic:             k.cfg.EventTopic,
		NumPartitions:     count,
		ReplicationFactor: 1,
	}); err != nil {
		return fmt.Errorf("kafka: create topic %s: %w", k.cfg.EventTopic, err)
	}
	return nil
}

func (k *Kafka) dial(ctx context.Context) (*kafka.Conn, error) {
	dialer := &kafka.Dialer{Timeout: dialTimeout, ClientID: k.cfg.ClientID}
	var lastErr error
	for _, broker := range k.cfg.Brokers {
		conn, err := dialer.DialContext(ctx, "tcp", broker)
		if err == nil {
			return conn, nil
		}
		lastErr = err
	}
	return nil, fmt.Errorf("kafka: dial: %w", lastErr)
}
