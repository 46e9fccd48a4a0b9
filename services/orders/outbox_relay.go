package main

import (
	"context"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

const outboxBatchSize = 100

// Publisher entrega um evento da outbox ao broker
type Publisher interface {
	Publish(ctx context.Context, event *OutboxEvent) error
	Close() error
}

// KafkaPublisher implementa Publisher usando Kafka
type KafkaPublisher struct {
	writer *kafka.Writer
}

// NewKafkaPublisher cria um writer para o tópico informado
func NewKafkaPublisher(brokersCSV, topic string) *KafkaPublisher {
	return &KafkaPublisher{
		writer: &kafka.Writer{
			Addr:                   kafka.TCP(splitBrokers(brokersCSV)...),
			Topic:                  topic,
			Balancer:               &kafka.Hash{},
			RequiredAcks:           kafka.RequireOne,
			AllowAutoTopicCreation: true,
		},
	}
}

func (p *KafkaPublisher) Publish(ctx context.Context, event *OutboxEvent) error {
	return p.writer.WriteMessages(ctx, kafkaMessage(event))
}

// kafkaMessage monta a mensagem de um evento. A entrega é at-least-once
// (réplicas do relay podem reenviar o mesmo evento), então consumidores
// deduplicam pelo header event_id.
func kafkaMessage(event *OutboxEvent) kafka.Message {
	// chave = order id, mantém a ordem por pedido dentro da partição
	return kafka.Message{
		Key:   []byte(event.Key),
		Value: event.Payload,
		Time:  event.CreatedAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.Topic)},
			{Key: "event_id", Value: []byte(event.ID)},
		},
	}
}

func (p *KafkaPublisher) Close() error {
	return p.writer.Close()
}

func splitBrokers(brokersCSV string) []string {
	brokers := []string{}
	for _, b := range strings.Split(brokersCSV, ",") {
		if b = strings.TrimSpace(b); b != "" {
			brokers = append(brokers, b)
		}
	}
	return brokers
}

// OutboxRelay publica os eventos gravados pelo checkout fora da transação.
// Falhas aqui nunca afetam o checkout: o evento fica pendente e é reenviado.
type OutboxRelay struct {
	outbox    OutboxRepository
	publisher Publisher
	interval  time.Duration
	logger    *zap.Logger
}

// NewOutboxRelay cria uma nova instância de OutboxRelay
func NewOutboxRelay(outbox OutboxRepository, publisher Publisher, interval time.Duration, logger *zap.Logger) *OutboxRelay {
	return &OutboxRelay{
		outbox:    outbox,
		publisher: publisher,
		interval:  interval,
		logger:    logger,
	}
}

// Run faz polling até o contexto ser cancelado
func (r *OutboxRelay) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("📤 [OUTBOX] relay started", zap.Duration("interval", r.interval))
	for {
		select {
		case <-ticker.C:
			r.PublishPending(ctx)
		case <-ctx.Done():
			r.logger.Info("📤 [OUTBOX] relay stopped")
			return
		}
	}
}

// PublishPending publica um lote de eventos pendentes e devolve quantos foram enviados
func (r *OutboxRelay) PublishPending(ctx context.Context) int {
	events, err := r.outbox.FetchPending(ctx, outboxBatchSize)
	if err != nil {
		r.logger.Error("❌ [OUTBOX] failed to fetch events", zap.Error(err))
		return 0
	}

	sent := 0
	for _, event := range events {
		if err := r.publisher.Publish(ctx, event); err != nil {
			r.logger.Warn("⚠️ [OUTBOX] failed to publish event",
				zap.String("event_id", event.ID), zap.String("topic", event.Topic), zap.Error(err))
			// mantém a ordem: os próximos eventos esperam o próximo ciclo
			break
		}
		if err := r.outbox.MarkSent(ctx, event.ID); err != nil {
			r.logger.Error("❌ [OUTBOX] failed to mark event as sent",
				zap.String("event_id", event.ID), zap.Error(err))
			break
		}
		sent++
	}

	if sent > 0 {
		r.logger.Debug("✅ [OUTBOX] events published", zap.Int("count", sent))
	}
	return sent
}
