package infra

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"reservation-gateway/reservation/domain"

	"github.com/redis/go-redis/v9"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// LogNotifier só registra a notificação. Padrão quando nenhum broker é configurado.
type LogNotifier struct {
	Logger *zap.Logger
}

func (n LogNotifier) Notify(_ context.Context, ev domain.Notification) error {
	if n.Logger == nil {
		return nil
	}
	n.Logger.Info("reservation notification",
		zap.String("kind", string(ev.Kind)),
		zap.String("resource_id", string(ev.ResourceID)),
		zap.String("user_id", string(ev.UserID)),
		zap.String("reservation_id", string(ev.ReservationID)),
	)
	return nil
}

// RedisNotifier publica a notificação (JSON) em um canal pub/sub, para quem
// invalida cache/páginas.
type RedisNotifier struct {
	rdb     *redis.Client
	channel string
}

func NewRedisNotifier(rdb *redis.Client, channel string) *RedisNotifier {
	if channel == "" {
		channel = "reservation:events"
	}
	return &RedisNotifier{rdb: rdb, channel: channel}
}

func (n *RedisNotifier) Notify(ctx context.Context, ev domain.Notification) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.rdb.Publish(ctx, n.channel, payload).Err()
}

// MessageWriter é o subconjunto de *kafka.Writer usado pelo KafkaNotifier.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaNotifier escreve a notificação em um tópico, com o ResourceID como chave
// (eventos do mesmo recurso caem na mesma partição, em ordem).
type KafkaNotifier struct {
	writer MessageWriter
}

func NewKafkaNotifier(writer MessageWriter) *KafkaNotifier {
	return &KafkaNotifier{writer: writer}
}

// NewKafkaWriter monta o *kafka.Writer padrão para o tópico de notificações.
func NewKafkaWriter(brokers []string, topic string) *kafka.Writer {
	return &kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}
}

func (n *KafkaNotifier) Notify(ctx context.Context, ev domain.Notification) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode notification: %w", err)
	}
	return n.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(ev.ResourceID),
		Value: payload,
		Headers: []kafka.Header{
			{Key: "kind", Value: []byte(ev.Kind)},
		},
	})
}

func (n *KafkaNotifier) Close() error {
	if n == nil || n.writer == nil {
		return nil
	}
	return n.writer.Close()
}

// FanOut entrega para todos os destinos e junta os erros.
type FanOut []domain.Notifier

func (f FanOut) Notify(ctx context.Context, ev domain.Notification) error {
	var errs []error
	for _, n := range f {
		if n == nil {
			continue
		}
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
