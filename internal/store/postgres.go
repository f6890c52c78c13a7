package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const ideaColumns = `
	i.idea_id, i.idea_title, i.idea_desc, i.idea_author, COALESCE(u.username, ''),
	i.idea_status, i.idea_date, i.idea_votes_up, i.idea_votes_down, i.topic_id
`

func scanIdea(row interface{ Scan(...any) error }, item *Idea) error {
	return row.Scan(
		&item.ID,
		&item.Title,
		&item.Description,
		&item.AuthorID,
		&item.AuthorName,
		&item.Status,
		&item.CreatedAt,
		&item.VotesUp,
		&item.VotesDown,
		&item.TopicID,
	)
}

func (s *PostgresStore) InsertIdea(ctx context.Context, title, description string, authorID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO ideas (idea_title, idea_desc, idea_author)
		VALUES ($1, $2, $3)
		RETURNING idea_id
	`, title, description, authorID).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("insert idea: %w", err)
	}
	return id, nil
}

// GetIdea returns sql.ErrNoRows unwrapped so callers can map it to a
// not-found result.
func (s *PostgresStore) GetIdea(ctx context.Context, ideaID int64) (Idea, error) {
	var item Idea
	err := scanIdea(s.db.QueryRowContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas i
		LEFT JOIN users u ON u.user_id = i.idea_author
		WHERE i.idea_id=$1
	`, ideaID), &item)
	if err != nil {
		return Idea{}, err
	}
	return item, nil
}

// ListIdeas returns a point-in-time snapshot of ideas whose status is not in
// excludeStatuses. Ordering is left entirely to the ranking engine.
func (s *PostgresStore) ListIdeas(ctx context.Context, excludeStatuses []int) ([]Idea, error) {
	excluded := make([]int64, 0, len(excludeStatuses))
	for _, status := range excludeStatuses {
		excluded = append(excluded, int64(status))
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+ideaColumns+`
		FROM ideas i
		LEFT JOIN users u ON u.user_id = i.idea_author
		WHERE i.idea_status <> ALL($1)
		ORDER BY i.idea_id ASC
	`, excluded)
	if err != nil {
		return nil, fmt.Errorf("list ideas: %w", err)
	}
	defer rows.Close()

	items := make([]Idea, 0)
	for rows.Next() {
		var item Idea
		if err := scanIdea(rows, &item); err != nil {
			return nil, fmt.Errorf("scan idea: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate ideas: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) SetTitle(ctx context.Context, ideaID int64, title string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET idea_title=$2 WHERE idea_id=$1
	`, ideaID, title)
	if err != nil {
		return false, fmt.Errorf("set idea title: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("set idea title rows: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) SetStatus(ctx context.Context, ideaID int64, status int) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET idea_status=$2 WHERE idea_id=$1
	`, ideaID, status)
	if err != nil {
		return fmt.Errorf("set idea status: %w", err)
	}
	return nil
}

func (s *PostgresStore) LinkTopic(ctx context.Context, ideaID, topicID int64) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE ideas SET topic_id=$2 WHERE idea_id=$1
	`, ideaID, topicID)
	if err != nil {
		return fmt.Errorf("link idea topic: %w", err)
	}
	return nil
}

// CastVote is the single write path for the vote ledger. It runs as one
// transaction: the ledger row for (ideaID, userID) is locked, then the idea
// counters are adjusted with relative deltas so concurrent votes by other
// users on the same idea never overwrite each other.
func (s *PostgresStore) CastVote(ctx context.Context, ideaID, userID int64, up bool) (VoteOutcome, error) {
	value := 0
	if up {
		value = 1
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VoteOutcome{}, fmt.Errorf("begin vote tx: %w", err)
	}
	defer tx.Rollback()

	var outcome VoteOutcome
	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT vote_value FROM idea_votes
		WHERE idea_id=$1 AND user_id=$2
		FOR UPDATE
	`, ideaID, userID).Scan(&existing)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO idea_votes (idea_id, user_id, vote_value)
			VALUES ($1, $2, $3)
		`, ideaID, userID, value); err != nil {
			return VoteOutcome{}, fmt.Errorf("insert vote: %w", err)
		}
		column := "idea_votes_down"
		if up {
			column = "idea_votes_up"
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE ideas SET `+column+` = `+column+` + 1
			WHERE idea_id=$1
			RETURNING idea_votes_up, idea_votes_down
		`, ideaID).Scan(&outcome.VotesUp, &outcome.VotesDown); err != nil {
			return VoteOutcome{}, fmt.Errorf("increment vote counter: %w", err)
		}
		outcome.Inserted = true

	case err != nil:
		return VoteOutcome{}, fmt.Errorf("lookup vote: %w", err)

	case existing == value:
		// Same polarity again: idempotent, report current totals untouched.
		if err := tx.QueryRowContext(ctx, `
			SELECT idea_votes_up, idea_votes_down FROM ideas WHERE idea_id=$1
		`, ideaID).Scan(&outcome.VotesUp, &outcome.VotesDown); err != nil {
			return VoteOutcome{}, fmt.Errorf("read vote counters: %w", err)
		}

	default:
		if _, err := tx.ExecContext(ctx, `
			UPDATE idea_votes SET vote_value=$3
			WHERE idea_id=$1 AND user_id=$2
		`, ideaID, userID, value); err != nil {
			return VoteOutcome{}, fmt.Errorf("update vote: %w", err)
		}
		delta := `idea_votes_up = idea_votes_up - 1, idea_votes_down = idea_votes_down + 1`
		if up {
			delta = `idea_votes_up = idea_votes_up + 1, idea_votes_down = idea_votes_down - 1`
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE ideas SET `+delta+`
			WHERE idea_id=$1
			RETURNING idea_votes_up, idea_votes_down
		`, ideaID).Scan(&outcome.VotesUp, &outcome.VotesDown); err != nil {
			return VoteOutcome{}, fmt.Errorf("swing vote counters: %w", err)
		}
		outcome.Updated = true
	}

	if err := tx.Commit(); err != nil {
		return VoteOutcome{}, fmt.Errorf("commit vote tx: %w", err)
	}
	return outcome, nil
}

// RemoveVote deletes the ledger row for (ideaID, userID) if one exists and
// decrements the matching counter. Retracting a vote that was never cast is a
// no-op that reports the current totals.
func (s *PostgresStore) RemoveVote(ctx context.Context, ideaID, userID int64) (VoteOutcome, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return VoteOutcome{}, fmt.Errorf("begin unvote tx: %w", err)
	}
	defer tx.Rollback()

	var outcome VoteOutcome
	var existing int
	err = tx.QueryRowContext(ctx, `
		SELECT vote_value FROM idea_votes
		WHERE idea_id=$1 AND user_id=$2
		FOR UPDATE
	`, ideaID, userID).Scan(&existing)

	switch {
	case errors.Is(err, sql.ErrNoRows):
		if err := tx.QueryRowContext(ctx, `
			SELECT idea_votes_up, idea_votes_down FROM ideas WHERE idea_id=$1
		`, ideaID).Scan(&outcome.VotesUp, &outcome.VotesDown); err != nil {
			return VoteOutcome{}, fmt.Errorf("read vote counters: %w", err)
		}

	case err != nil:
		return VoteOutcome{}, fmt.Errorf("lookup vote: %w", err)

	default:
		if _, err := tx.ExecContext(ctx, `
			DELETE FROM idea_votes WHERE idea_id=$1 AND user_id=$2
		`, ideaID, userID); err != nil {
			return VoteOutcome{}, fmt.Errorf("delete vote: %w", err)
		}
		column := "idea_votes_down"
		if existing == 1 {
			column = "idea_votes_up"
		}
		if err := tx.QueryRowContext(ctx, `
			UPDATE ideas SET `+column+` = `+column+` - 1
			WHERE idea_id=$1
			RETURNING idea_votes_up, idea_votes_down
		`, ideaID).Scan(&outcome.VotesUp, &outcome.VotesDown); err != nil {
			return VoteOutcome{}, fmt.Errorf("decrement vote counter: %w", err)
		}
		outcome.Removed = true
	}

	if err := tx.Commit(); err != nil {
		return VoteOutcome{}, fmt.Errorf("commit unvote tx: %w", err)
	}
	return outcome, nil
}

func (s *PostgresStore) Voters(ctx context.Context, ideaID int64) ([]Voter, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT iv.user_id, u.username, u.user_colour, iv.vote_value
		FROM idea_votes iv
		JOIN users u ON u.user_id = iv.user_id
		WHERE iv.idea_id=$1
		ORDER BY u.username DESC
	`, ideaID)
	if err != nil {
		return nil, fmt.Errorf("list voters: %w", err)
	}
	defer rows.Close()

	items := make([]Voter, 0)
	for rows.Next() {
		var item Voter
		var value int
		if err := rows.Scan(&item.UserID, &item.Username, &item.Colour, &value); err != nil {
			return nil, fmt.Errorf("scan voter: %w", err)
		}
		item.Up = value == 1
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate voters: %w", err)
	}
	return items, nil
}

// GetCrossRefs reads all three relations for an idea; missing rows come back
// as zero values.
func (s *PostgresStore) GetCrossRefs(ctx context.Context, ideaID int64) (CrossRefs, error) {
	var refs CrossRefs

	err := s.db.QueryRowContext(ctx,
		`SELECT duplicate_id FROM idea_duplicates WHERE idea_id=$1`, ideaID,
	).Scan(&refs.DuplicateID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CrossRefs{}, fmt.Errorf("read duplicate ref: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT ticket_id FROM idea_tickets WHERE idea_id=$1`, ideaID,
	).Scan(&refs.TicketID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CrossRefs{}, fmt.Errorf("read ticket ref: %w", err)
	}

	err = s.db.QueryRowContext(ctx,
		`SELECT rfc_link FROM idea_rfcs WHERE idea_id=$1`, ideaID,
	).Scan(&refs.RFCLink)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return CrossRefs{}, fmt.Errorf("read rfc ref: %w", err)
	}

	return refs, nil
}

func (s *PostgresStore) replaceRef(ctx context.Context, deleteSQL, insertSQL string, ideaID int64, value any, clear bool) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin ref tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, deleteSQL, ideaID); err != nil {
		return fmt.Errorf("delete ref: %w", err)
	}
	if !clear {
		if _, err := tx.ExecContext(ctx, insertSQL, ideaID, value); err != nil {
			return fmt.Errorf("insert ref: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit ref tx: %w", err)
	}
	return nil
}

// ReplaceDuplicate swaps the duplicate target of an idea. A zero duplicateID
// clears the relation.
func (s *PostgresStore) ReplaceDuplicate(ctx context.Context, ideaID, duplicateID int64) error {
	return s.replaceRef(ctx,
		`DELETE FROM idea_duplicates WHERE idea_id=$1`,
		`INSERT INTO idea_duplicates (idea_id, duplicate_id) VALUES ($1, $2)`,
		ideaID, duplicateID, duplicateID == 0)
}

func (s *PostgresStore) ReplaceTicket(ctx context.Context, ideaID, ticketID int64) error {
	return s.replaceRef(ctx,
		`DELETE FROM idea_tickets WHERE idea_id=$1`,
		`INSERT INTO idea_tickets (idea_id, ticket_id) VALUES ($1, $2)`,
		ideaID, ticketID, ticketID == 0)
}

func (s *PostgresStore) ReplaceRFC(ctx context.Context, ideaID int64, link string) error {
	return s.replaceRef(ctx,
		`DELETE FROM idea_rfcs WHERE idea_id=$1`,
		`INSERT INTO idea_rfcs (idea_id, rfc_link) VALUES ($1, $2)`,
		ideaID, link, link == "")
}

// DeleteIdea removes the idea row, every ledger row and all three
// cross-reference relations in one transaction. The returned bool reports
// whether the idea row itself existed.
func (s *PostgresStore) DeleteIdea(ctx context.Context, ideaID int64) (bool, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete tx: %w", err)
	}
	defer tx.Rollback()

	for _, stmt := range []string{
		`DELETE FROM idea_votes WHERE idea_id=$1`,
		`DELETE FROM idea_duplicates WHERE idea_id=$1`,
		`DELETE FROM idea_tickets WHERE idea_id=$1`,
		`DELETE FROM idea_rfcs WHERE idea_id=$1`,
	} {
		if _, err := tx.ExecContext(ctx, stmt, ideaID); err != nil {
			return false, fmt.Errorf("cascade idea delete: %w", err)
		}
	}

	result, err := tx.ExecContext(ctx, `DELETE FROM ideas WHERE idea_id=$1`, ideaID)
	if err != nil {
		return false, fmt.Errorf("delete idea: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete idea rows: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete tx: %w", err)
	}
	return affected > 0, nil
}

func (s *PostgresStore) Statuses(ctx context.Context) ([]Status, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT status_id, status_name FROM idea_statuses ORDER BY status_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("list statuses: %w", err)
	}
	defer rows.Close()

	items := make([]Status, 0)
	for rows.Next() {
		var item Status
		if err := rows.Scan(&item.ID, &item.Name); err != nil {
			return nil, fmt.Errorf("scan status: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statuses: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) StatusName(ctx context.Context, statusID int) (string, error) {
	var name string
	err := s.db.QueryRowContext(ctx,
		`SELECT status_name FROM idea_statuses WHERE status_id=$1`, statusID,
	).Scan(&name)
	if err != nil {
		return "", err
	}
	return name, nil
}

func (s *PostgresStore) GetUserByID(ctx context.Context, userID int64) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, user_colour FROM users WHERE user_id=$1`, userID,
	).Scan(&user.ID, &user.Username, &user.Colour)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

func (s *PostgresStore) GetUserByName(ctx context.Context, username string) (User, error) {
	var user User
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, username, user_colour FROM users WHERE username=$1`, username,
	).Scan(&user.ID, &user.Username, &user.Colour)
	if err != nil {
		return User{}, err
	}
	return user, nil
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
