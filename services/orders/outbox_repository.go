package main

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresOutboxRepository implementa OutboxRepository usando PostgreSQL
type PostgresOutboxRepository struct {
	db *pgxpool.Pool
}

// NewOutboxRepository cria uma nova instância de PostgresOutboxRepository
func NewOutboxRepository(db *pgxpool.Pool) OutboxRepository {
	return &PostgresOutboxRepository{db: db}
}

// InsertEvent grava o evento na mesma transação do pedido
func (r *PostgresOutboxRepository) InsertEvent(ctx context.Context, tx Tx, event *OutboxEvent) error {
	pgTx, err := pgTxFrom(tx)
	if err != nil {
		return err
	}

	_, err = pgTx.Exec(ctx, `
		INSERT INTO outbox (id, topic, key, payload, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`, event.ID, event.Topic, event.Key, event.Payload, event.CreatedAt)
	if err != nil {
		return classifyPgError("insert outbox event", err)
	}
	return nil
}

// FetchPending busca eventos ainda não publicados, em ordem de criação
func (r *PostgresOutboxRepository) FetchPending(ctx context.Context, limit int) ([]*OutboxEvent, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, topic, key, payload, created_at, sent_at
		FROM outbox
		WHERE sent_at IS NULL
		ORDER BY created_at, id
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, storageError("fetch outbox", err)
	}
	defer rows.Close()

	var events []*OutboxEvent
	for rows.Next() {
		var e OutboxEvent
		if err := rows.Scan(&e.ID, &e.Topic, &e.Key, &e.Payload, &e.CreatedAt, &e.SentAt); err != nil {
			return nil, storageError("scan outbox", err)
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, storageError("fetch outbox", err)
	}
	return events, nil
}

// MarkSent marca o evento como publicado
func (r *PostgresOutboxRepository) MarkSent(ctx context.Context, eventID string) error {
	_, err := r.db.Exec(ctx, `UPDATE outbox SET sent_at = NOW() WHERE id = $1 AND sent_at IS NULL`, eventID)
	if err != nil {
		return storageError("mark outbox sent", err)
	}
	return nil
}
