// Package audit is an append-only sink for administrative actions.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Entry struct {
	ID        int64
	ActorID   int64
	Action    string
	Subject   string
	CreatedAt time.Time
}

type Log struct {
	db *sql.DB
}

func New(db *sql.DB) *Log {
	return &Log{db: db}
}

func (l *Log) Append(ctx context.Context, actorID int64, action, subject string) error {
	_, err := l.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor_id, action, subject)
		VALUES ($1, $2, $3)
	`, actorID, action, subject)
	if err != nil {
		return fmt.Errorf("append audit entry: %w", err)
	}
	return nil
}

func (l *Log) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := l.db.QueryContext(ctx, `
		SELECT id, actor_id, action, subject, created_at
		FROM audit_log
		ORDER BY id DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("list audit entries: %w", err)
	}
	defer rows.Close()

	items := make([]Entry, 0)
	for rows.Next() {
		var item Entry
		if err := rows.Scan(&item.ID, &item.ActorID, &item.Action, &item.Subject, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return items, nil
}
