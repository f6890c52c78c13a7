// Package app hosts the lifecycle coordinator: it composes the idea store,
// the vote ledger, the ranking engine and the external collaborators (forum
// topics, read tracking, audit log) behind one service type.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strconv"
	"time"

	"ideaboard/api/internal/audit"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/metrics"
	"ideaboard/api/internal/rank"
	"ideaboard/api/internal/store"
)

// Title and description length bounds, enforced on submission and title
// edits.
const (
	titleMinLen = 6
	titleMaxLen = 64
	descMinLen  = 5
	descMaxLen  = 9900
)

// rfcPattern is the trusted origin an RFC link must point at. Anything else
// is dropped without a reason: malformed cross-reference input is treated as
// a probe, not a user mistake.
var rfcPattern = regexp.MustCompile(`^https?://area51\.phpbb\.com/phpBB/viewtopic\.php`)

type dataStore interface {
	InsertIdea(ctx context.Context, title, description string, authorID int64) (int64, error)
	GetIdea(ctx context.Context, ideaID int64) (store.Idea, error)
	ListIdeas(ctx context.Context, excludeStatuses []int) ([]store.Idea, error)
	SetTitle(ctx context.Context, ideaID int64, title string) (bool, error)
	SetStatus(ctx context.Context, ideaID int64, status int) error
	LinkTopic(ctx context.Context, ideaID, topicID int64) error
	CastVote(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error)
	RemoveVote(ctx context.Context, ideaID, userID int64) (store.VoteOutcome, error)
	Voters(ctx context.Context, ideaID int64) ([]store.Voter, error)
	GetCrossRefs(ctx context.Context, ideaID int64) (store.CrossRefs, error)
	ReplaceDuplicate(ctx context.Context, ideaID, duplicateID int64) error
	ReplaceTicket(ctx context.Context, ideaID, ticketID int64) error
	ReplaceRFC(ctx context.Context, ideaID int64, link string) error
	DeleteIdea(ctx context.Context, ideaID int64) (bool, error)
	Statuses(ctx context.Context) ([]store.Status, error)
	StatusName(ctx context.Context, statusID int) (string, error)
	GetUserByID(ctx context.Context, userID int64) (store.User, error)
	GetUserByName(ctx context.Context, username string) (store.User, error)
	Ping(ctx context.Context) error
}

type forumService interface {
	CreateTopic(ctx context.Context, forumID, posterID int64, title, body string) (int64, error)
	DeleteTopic(ctx context.Context, topicID int64) error
	LastPostTimes(ctx context.Context, topicIDs []int64) (map[int64]time.Time, error)
}

type readTracker interface {
	MarkRead(ctx context.Context, userID, topicID int64, at time.Time) error
	ReadStates(ctx context.Context, userID int64, lastPost map[int64]time.Time) (map[int64]bool, error)
}

type auditLog interface {
	Append(ctx context.Context, actorID int64, action, subject string) error
	Recent(ctx context.Context, limit int) ([]audit.Entry, error)
}

type Service struct {
	cfg     config.Config
	store   dataStore
	forum   forumService
	tracker readTracker
	audit   auditLog
	metrics *metrics.Metrics
	logger  *slog.Logger
}

func New(cfg config.Config, dataStore dataStore, forum forumService, tracker readTracker, auditLog auditLog, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		cfg:     cfg,
		store:   dataStore,
		forum:   forum,
		tracker: tracker,
		audit:   auditLog,
		metrics: m,
		logger:  logger,
	}
}

type IdeaSummary struct {
	store.Idea
	StatusName string
	Read       bool
}

type IdeaDetail struct {
	store.Idea
	StatusName string
	Refs       store.CrossRefs
}

type VoteResult struct {
	Message   string
	VotesUp   int
	VotesDown int
	Points    int
}

func validateIdeaFields(title, description string) []string {
	var fieldErrors []string
	if len(title) < titleMinLen {
		fieldErrors = append(fieldErrors, "title too short")
	}
	if len(title) > titleMaxLen {
		fieldErrors = append(fieldErrors, "title too long")
	}
	if len(description) < descMinLen {
		fieldErrors = append(fieldErrors, "description too short")
	}
	if len(description) > descMaxLen {
		fieldErrors = append(fieldErrors, "description too long")
	}
	return fieldErrors
}

// SubmitIdea validates and stores a new idea, casts the author's implicit
// upvote, and mirrors the idea into a forum topic authored by the configured
// bot identity. The topic id is back-filled onto the idea afterwards, so the
// topic briefly exists without the back-reference.
func (s *Service) SubmitIdea(ctx context.Context, authorID int64, title, description string) (int64, error) {
	if fieldErrors := validateIdeaFields(title, description); len(fieldErrors) > 0 {
		return 0, errValidation(fieldErrors)
	}

	author, err := s.store.GetUserByID(ctx, authorID)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domainError(404, "NOT_FOUND", "no such user", nil)
	}
	if err != nil {
		return 0, fmt.Errorf("resolve author: %w", err)
	}

	ideaID, err := s.store.InsertIdea(ctx, title, description, authorID)
	if err != nil {
		return 0, err
	}

	if _, err := s.store.CastVote(ctx, ideaID, authorID, true); err != nil {
		return 0, fmt.Errorf("author vote: %w", err)
	}

	body := description +
		"\n\n----------\n\n" +
		"View and vote on this idea at " + s.ideaURL(ideaID) +
		"\n\nIdea posted by " + author.Username

	var topicID int64
	if s.forum != nil {
		topicID, err = s.forum.CreateTopic(ctx, int64(s.cfg.ForumID), int64(s.cfg.PosterID), title, body)
		if err != nil {
			return ideaID, fmt.Errorf("create idea topic: %w", err)
		}
		if err := s.store.LinkTopic(ctx, ideaID, topicID); err != nil {
			return ideaID, fmt.Errorf("link idea topic: %w", err)
		}
	}

	s.metrics.IncIdeasSubmitted()
	s.logger.Info("idea submitted", "idea_id", ideaID, "author_id", authorID, "topic_id", topicID)
	return ideaID, nil
}

func (s *Service) ideaURL(ideaID int64) string {
	base := s.cfg.BaseURL
	if base == "" {
		base = "/ideas"
	}
	return base + "/" + strconv.FormatInt(ideaID, 10)
}

// GetIdea returns the idea with its cross-references and status name. When a
// viewer is known, their read marker for the idea's topic is refreshed.
func (s *Service) GetIdea(ctx context.Context, viewerID, ideaID int64) (IdeaDetail, error) {
	idea, err := s.store.GetIdea(ctx, ideaID)
	if errors.Is(err, sql.ErrNoRows) {
		return IdeaDetail{}, errNotFound()
	}
	if err != nil {
		return IdeaDetail{}, fmt.Errorf("get idea: %w", err)
	}

	refs, err := s.store.GetCrossRefs(ctx, ideaID)
	if err != nil {
		return IdeaDetail{}, err
	}

	statusName, err := s.store.StatusName(ctx, idea.Status)
	if err != nil {
		return IdeaDetail{}, fmt.Errorf("resolve status name: %w", err)
	}

	if viewerID > 0 && idea.TopicID > 0 && s.tracker != nil {
		if err := s.tracker.MarkRead(ctx, viewerID, idea.TopicID, time.Now()); err != nil {
			s.logger.Warn("mark idea read", "error", err, "idea_id", ideaID)
		}
	}

	return IdeaDetail{Idea: idea, StatusName: statusName, Refs: refs}, nil
}

// ListIdeas ranks a snapshot of ideas under the requested strategy. The
// default filter hides duplicate, rejected and invalid ideas; includeHidden
// lifts it. When a viewer is known, each idea is annotated with whether its
// discussion topic has unread activity.
func (s *Service) ListIdeas(ctx context.Context, viewerID int64, sortBy, direction string, limit int, includeHidden bool) ([]IdeaSummary, error) {
	excluded := store.DefaultExcludedStatuses
	if includeHidden {
		excluded = nil
	}
	ideas, err := s.store.ListIdeas(ctx, excluded)
	if err != nil {
		return nil, err
	}

	if limit <= 0 {
		limit = s.cfg.ListLimit
	}
	ranked := rank.Rank(ideas, rank.ParseStrategy(sortBy), rank.ParseDirection(direction), limit)

	statusNames, err := s.statusNames(ctx)
	if err != nil {
		return nil, err
	}

	readStates, err := s.readStates(ctx, viewerID, ranked)
	if err != nil {
		return nil, err
	}

	items := make([]IdeaSummary, 0, len(ranked))
	for _, idea := range ranked {
		read, tracked := readStates[idea.TopicID]
		items = append(items, IdeaSummary{
			Idea:       idea,
			StatusName: statusNames[idea.Status],
			Read:       !tracked || read,
		})
	}
	return items, nil
}

func (s *Service) statusNames(ctx context.Context) (map[int]string, error) {
	statuses, err := s.store.Statuses(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int]string, len(statuses))
	for _, status := range statuses {
		names[status.ID] = status.Name
	}
	return names, nil
}

func (s *Service) readStates(ctx context.Context, viewerID int64, ideas []store.Idea) (map[int64]bool, error) {
	if viewerID <= 0 || s.tracker == nil || s.forum == nil {
		return nil, nil
	}
	topicIDs := make([]int64, 0, len(ideas))
	for _, idea := range ideas {
		if idea.TopicID > 0 {
			topicIDs = append(topicIDs, idea.TopicID)
		}
	}
	lastPost, err := s.forum.LastPostTimes(ctx, topicIDs)
	if err != nil {
		return nil, fmt.Errorf("topic last post times: %w", err)
	}
	states, err := s.tracker.ReadStates(ctx, viewerID, lastPost)
	if err != nil {
		return nil, fmt.Errorf("read states: %w", err)
	}
	return states, nil
}

// Vote records, toggles or confirms a user's vote on an idea. Same-polarity
// re-votes are idempotent; switching polarity swings the score by two.
func (s *Service) Vote(ctx context.Context, ideaID, userID int64, value string) (VoteResult, error) {
	if value != "up" && value != "down" {
		return VoteResult{}, errInvalidVote()
	}

	if _, err := s.store.GetIdea(ctx, ideaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoteResult{}, errNotFound()
		}
		return VoteResult{}, fmt.Errorf("get idea: %w", err)
	}

	outcome, err := s.store.CastVote(ctx, ideaID, userID, value == "up")
	if err != nil {
		return VoteResult{}, err
	}

	message := "vote updated"
	if outcome.Inserted {
		message = "vote recorded"
	}
	if outcome.Inserted || outcome.Updated {
		s.metrics.IncVotesCast()
	}

	return VoteResult{
		Message:   message,
		VotesUp:   outcome.VotesUp,
		VotesDown: outcome.VotesDown,
		Points:    outcome.VotesUp - outcome.VotesDown,
	}, nil
}

// RemoveVote retracts a user's vote if one exists. Retracting a vote that
// was never cast is a no-op that reports the current totals.
func (s *Service) RemoveVote(ctx context.Context, ideaID, userID int64) (VoteResult, error) {
	if _, err := s.store.GetIdea(ctx, ideaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return VoteResult{}, errNotFound()
		}
		return VoteResult{}, fmt.Errorf("get idea: %w", err)
	}

	outcome, err := s.store.RemoveVote(ctx, ideaID, userID)
	if err != nil {
		return VoteResult{}, err
	}
	if outcome.Removed {
		s.metrics.IncVotesRetracted()
	}

	return VoteResult{
		Message:   "vote updated",
		VotesUp:   outcome.VotesUp,
		VotesDown: outcome.VotesDown,
		Points:    outcome.VotesUp - outcome.VotesDown,
	}, nil
}

func (s *Service) Voters(ctx context.Context, ideaID int64) ([]store.Voter, error) {
	return s.store.Voters(ctx, ideaID)
}

// SetTitle renames an idea. Length violations report failure without
// mutating anything; successful edits land in the audit log.
func (s *Service) SetTitle(ctx context.Context, actorID, ideaID int64, title string) (bool, error) {
	if len(title) < titleMinLen || len(title) > titleMaxLen {
		return false, nil
	}
	updated, err := s.store.SetTitle(ctx, ideaID, title)
	if err != nil || !updated {
		return false, err
	}
	s.auditAction(ctx, actorID, "idea_title_edited", ideaID)
	return true, nil
}

// ChangeStatus moves an idea to another lifecycle status. Which transitions
// are sensible is the admin layer's problem; here only recognized status IDs
// are accepted.
func (s *Service) ChangeStatus(ctx context.Context, actorID, ideaID int64, status int) error {
	if !store.KnownStatus(status) {
		return errValidation([]string{"unknown status"})
	}
	if _, err := s.store.GetIdea(ctx, ideaID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errNotFound()
		}
		return fmt.Errorf("get idea: %w", err)
	}
	if err := s.store.SetStatus(ctx, ideaID, status); err != nil {
		return err
	}
	s.auditAction(ctx, actorID, "idea_status_changed", ideaID)
	return nil
}

// SetDuplicate marks an idea as a duplicate of another. Non-numeric input is
// dropped silently; an empty value clears the relation. The target is not
// checked for existence or self-reference; the admin surface is trusted.
func (s *Service) SetDuplicate(ctx context.Context, actorID, ideaID int64, value string) error {
	if value == "" {
		return s.store.ReplaceDuplicate(ctx, ideaID, 0)
	}
	duplicateID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.logger.Warn("duplicate ref rejected", "idea_id", ideaID, "actor_id", actorID)
		return nil
	}
	return s.store.ReplaceDuplicate(ctx, ideaID, duplicateID)
}

// SetTicket links an idea to an external tracker ticket. Non-numeric input
// is dropped silently; an empty value clears the relation.
func (s *Service) SetTicket(ctx context.Context, actorID, ideaID int64, value string) error {
	if value == "" {
		return s.store.ReplaceTicket(ctx, ideaID, 0)
	}
	ticketID, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		s.logger.Warn("ticket ref rejected", "idea_id", ideaID, "actor_id", actorID)
		return nil
	}
	return s.store.ReplaceTicket(ctx, ideaID, ticketID)
}

// SetRFC links an idea to an RFC discussion. Links outside the trusted
// origin are dropped silently, leaving any prior value untouched; an empty
// value clears the relation.
func (s *Service) SetRFC(ctx context.Context, actorID, ideaID int64, link string) error {
	if link == "" {
		return s.store.ReplaceRFC(ctx, ideaID, "")
	}
	if !rfcPattern.MatchString(link) {
		s.logger.Warn("rfc ref rejected", "idea_id", ideaID, "actor_id", actorID)
		return nil
	}
	return s.store.ReplaceRFC(ctx, ideaID, link)
}

// Delete removes an idea, its votes and cross-references, and asks the forum
// collaborator to drop the mirrored topic. The local cascade always runs,
// even when the topic deletion fails. Returns whether the idea row existed.
func (s *Service) Delete(ctx context.Context, actorID, ideaID, topicID int64) (bool, error) {
	if topicID == 0 {
		idea, err := s.store.GetIdea(ctx, ideaID)
		if err != nil && !errors.Is(err, sql.ErrNoRows) {
			return false, fmt.Errorf("get idea: %w", err)
		}
		topicID = idea.TopicID
	}

	if topicID > 0 && s.forum != nil {
		if err := s.forum.DeleteTopic(ctx, topicID); err != nil {
			s.logger.Warn("delete idea topic", "error", err, "idea_id", ideaID, "topic_id", topicID)
		}
	}

	deleted, err := s.store.DeleteIdea(ctx, ideaID)
	if err != nil {
		return false, err
	}
	if deleted {
		s.metrics.IncIdeasDeleted()
		s.auditAction(ctx, actorID, "idea_deleted", ideaID)
	}
	return deleted, nil
}

func (s *Service) Statuses(ctx context.Context) ([]store.Status, error) {
	return s.store.Statuses(ctx)
}

func (s *Service) AuditTrail(ctx context.Context, limit int) ([]audit.Entry, error) {
	if s.audit == nil {
		return nil, nil
	}
	return s.audit.Recent(ctx, limit)
}

// ResolveUser maps an externally authenticated username onto the user
// directory. Authn itself happens upstream; this layer only consumes the
// resulting identity.
func (s *Service) ResolveUser(ctx context.Context, username string) (store.User, error) {
	user, err := s.store.GetUserByName(ctx, username)
	if errors.Is(err, sql.ErrNoRows) {
		return store.User{}, domainError(404, "NOT_FOUND", "no such user", nil)
	}
	if err != nil {
		return store.User{}, fmt.Errorf("resolve user: %w", err)
	}
	return user, nil
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

func (s *Service) auditAction(ctx context.Context, actorID int64, action string, ideaID int64) {
	if s.audit == nil {
		return
	}
	subject := "idea:" + strconv.FormatInt(ideaID, 10)
	if err := s.audit.Append(ctx, actorID, action, subject); err != nil {
		s.logger.Warn("audit append", "error", err, "action", action, "subject", subject)
	}
}
