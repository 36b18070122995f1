package ingest

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/tagalong/internal/events"
	"github.com/example/tagalong/internal/models"
)

// PingProducer publishes raw location pings for the position-feed consumer.
type PingProducer struct {
	writer *kafka.Writer
}

func NewPingProducer(brokers []string, topic string) *PingProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &PingProducer{writer: w}
}

func (p *PingProducer) PublishPing(ping models.LocationPing) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(ping)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(ping.UserID), Value: b})
}

func (p *PingProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}

// EventProducer mirrors lifecycle events onto a Kafka topic so other services
// (notification senders, analytics) can follow the same change stream the
// in-process subscribers see.
type EventProducer struct {
	writer *kafka.Writer
}

func NewEventProducer(brokers []string, topic string) *EventProducer {
	w := kafka.NewWriter(kafka.WriterConfig{Brokers: brokers, Topic: topic, Balancer: &kafka.LeastBytes{}})
	return &EventProducer{writer: w}
}

func (p *EventProducer) PublishEvent(e events.Event) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	b, _ := json.Marshal(e)
	return p.writer.WriteMessages(ctx, kafka.Message{Key: []byte(e.ActivityID), Value: b})
}

func (p *EventProducer) Close() error {
	if p.writer == nil {
		return nil
	}
	return p.writer.Close()
}
