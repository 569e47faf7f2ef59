package out

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/IBM/sarama"
)

// KafkaSink publishes envelopes to one topic through a sync producer. Emit
// returns only after the broker acked, so callers may checkpoint behind it.
type KafkaSink struct {
	topic string
	p     sarama.SyncProducer
}

var _ Sink = (*KafkaSink)(nil)

func NewKafkaSink(brokers []string, topic string, cfg *sarama.Config) (*KafkaSink, error) {
	if cfg == nil {
		cfg = sarama.NewConfig()
		cfg.Producer.RequiredAcks = sarama.WaitForAll
		cfg.Producer.Retry.Max = 10
		cfg.Producer.Retry.Backoff = 200 * time.Millisecond
	}
	// SyncProducer requires both return channels.
	cfg.Producer.Return.Successes = true
	cfg.Producer.Return.Errors = true

	p, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, err
	}
	return &KafkaSink{topic: topic, p: p}, nil
}

func (s *KafkaSink) Close() error {
	if s.p != nil {
		return s.p.Close()
	}
	return nil
}

func (s *KafkaSink) Emit(ctx context.Context, typ string, v any) error {
	// SyncProducer does not take a ctx; check before blocking on the send.
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	env := Envelope{
		Type: typ,
		TS:   time.Now().UnixMilli(),
		Data: data,
	}
	b, err := json.Marshal(env)
	if err != nil {
		return err
	}

	msg := &sarama.ProducerMessage{
		Topic: s.topic,
		Key:   sarama.StringEncoder(typ),
		Value: sarama.ByteEncoder(b),
	}
	if _, _, err := s.p.SendMessage(msg); err != nil {
		return fmt.Errorf("kafka emit failed: %w", err)
	}
	return nil
}
