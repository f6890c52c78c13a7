// Package forum is the discussion-thread collaborator: each idea mirrors one
// forum topic. Topics created here are bot-authored and force-approved so the
// moderation queue never sees them.
package forum

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

type Service struct {
	db *sql.DB
}

func New(db *sql.DB) *Service {
	return &Service{db: db}
}

// CreateTopic opens a new approved topic with its first post, authored by the
// given poster (the ideas bot, never the submitting user). Returns the new
// topic id.
func (s *Service) CreateTopic(ctx context.Context, forumID, posterID int64, title, body string) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin topic tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now()
	var topicID int64
	err = tx.QueryRowContext(ctx, `
		INSERT INTO topics (forum_id, poster_id, topic_title, topic_approved, topic_by_bot, topic_last_post_time)
		VALUES ($1, $2, $3, TRUE, TRUE, $4)
		RETURNING topic_id
	`, forumID, posterID, title, now).Scan(&topicID)
	if err != nil {
		return 0, fmt.Errorf("insert topic: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO posts (topic_id, poster_id, post_text, created_at)
		VALUES ($1, $2, $3, $4)
	`, topicID, posterID, body, now); err != nil {
		return 0, fmt.Errorf("insert first post: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit topic tx: %w", err)
	}
	return topicID, nil
}

// DeleteTopic removes a topic and all of its posts.
func (s *Service) DeleteTopic(ctx context.Context, topicID int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin topic delete tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM posts WHERE topic_id=$1`, topicID); err != nil {
		return fmt.Errorf("delete posts: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM topics WHERE topic_id=$1`, topicID); err != nil {
		return fmt.Errorf("delete topic: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit topic delete tx: %w", err)
	}
	return nil
}

// LastPostTimes returns the last-post time for each of the given topics.
// Topics that no longer exist are simply absent from the result.
func (s *Service) LastPostTimes(ctx context.Context, topicIDs []int64) (map[int64]time.Time, error) {
	times := make(map[int64]time.Time, len(topicIDs))
	if len(topicIDs) == 0 {
		return times, nil
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT topic_id, topic_last_post_time FROM topics WHERE topic_id = ANY($1)
	`, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("list last post times: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var topicID int64
		var lastPost time.Time
		if err := rows.Scan(&topicID, &lastPost); err != nil {
			return nil, fmt.Errorf("scan last post time: %w", err)
		}
		times[topicID] = lastPost
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate last post times: %w", err)
	}
	return times, nil
}
