package app

import (
	"context"
	"database/sql"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"ideaboard/api/internal/audit"
	"ideaboard/api/internal/config"
	"ideaboard/api/internal/store"
)

type fakeStore struct {
	insertIdeaFn       func(ctx context.Context, title, description string, authorID int64) (int64, error)
	getIdeaFn          func(ctx context.Context, ideaID int64) (store.Idea, error)
	listIdeasFn        func(ctx context.Context, excludeStatuses []int) ([]store.Idea, error)
	setTitleFn         func(ctx context.Context, ideaID int64, title string) (bool, error)
	setStatusFn        func(ctx context.Context, ideaID int64, status int) error
	linkTopicFn        func(ctx context.Context, ideaID, topicID int64) error
	castVoteFn         func(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error)
	removeVoteFn       func(ctx context.Context, ideaID, userID int64) (store.VoteOutcome, error)
	votersFn           func(ctx context.Context, ideaID int64) ([]store.Voter, error)
	getCrossRefsFn     func(ctx context.Context, ideaID int64) (store.CrossRefs, error)
	replaceDuplicateFn func(ctx context.Context, ideaID, duplicateID int64) error
	replaceTicketFn    func(ctx context.Context, ideaID, ticketID int64) error
	replaceRFCFn       func(ctx context.Context, ideaID int64, link string) error
	deleteIdeaFn       func(ctx context.Context, ideaID int64) (bool, error)
	statusesFn         func(ctx context.Context) ([]store.Status, error)
	statusNameFn       func(ctx context.Context, statusID int) (string, error)
	getUserByIDFn      func(ctx context.Context, userID int64) (store.User, error)
	getUserByNameFn    func(ctx context.Context, username string) (store.User, error)
}

func (f *fakeStore) InsertIdea(ctx context.Context, title, description string, authorID int64) (int64, error) {
	if f.insertIdeaFn != nil {
		return f.insertIdeaFn(ctx, title, description, authorID)
	}
	return 1, nil
}

func (f *fakeStore) GetIdea(ctx context.Context, ideaID int64) (store.Idea, error) {
	if f.getIdeaFn != nil {
		return f.getIdeaFn(ctx, ideaID)
	}
	return store.Idea{ID: ideaID, Status: store.StatusNew}, nil
}

func (f *fakeStore) ListIdeas(ctx context.Context, excludeStatuses []int) ([]store.Idea, error) {
	if f.listIdeasFn != nil {
		return f.listIdeasFn(ctx, excludeStatuses)
	}
	return nil, nil
}

func (f *fakeStore) SetTitle(ctx context.Context, ideaID int64, title string) (bool, error) {
	if f.setTitleFn != nil {
		return f.setTitleFn(ctx, ideaID, title)
	}
	return true, nil
}

func (f *fakeStore) SetStatus(ctx context.Context, ideaID int64, status int) error {
	if f.setStatusFn != nil {
		return f.setStatusFn(ctx, ideaID, status)
	}
	return nil
}

func (f *fakeStore) LinkTopic(ctx context.Context, ideaID, topicID int64) error {
	if f.linkTopicFn != nil {
		return f.linkTopicFn(ctx, ideaID, topicID)
	}
	return nil
}

func (f *fakeStore) CastVote(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error) {
	if f.castVoteFn != nil {
		return f.castVoteFn(ctx, ideaID, userID, up)
	}
	return store.VoteOutcome{Inserted: true, VotesUp: 1}, nil
}

func (f *fakeStore) RemoveVote(ctx context.Context, ideaID, userID int64) (store.VoteOutcome, error) {
	if f.removeVoteFn != nil {
		return f.removeVoteFn(ctx, ideaID, userID)
	}
	return store.VoteOutcome{}, nil
}

func (f *fakeStore) Voters(ctx context.Context, ideaID int64) ([]store.Voter, error) {
	if f.votersFn != nil {
		return f.votersFn(ctx, ideaID)
	}
	return nil, nil
}

func (f *fakeStore) GetCrossRefs(ctx context.Context, ideaID int64) (store.CrossRefs, error) {
	if f.getCrossRefsFn != nil {
		return f.getCrossRefsFn(ctx, ideaID)
	}
	return store.CrossRefs{}, nil
}

func (f *fakeStore) ReplaceDuplicate(ctx context.Context, ideaID, duplicateID int64) error {
	if f.replaceDuplicateFn != nil {
		return f.replaceDuplicateFn(ctx, ideaID, duplicateID)
	}
	return nil
}

func (f *fakeStore) ReplaceTicket(ctx context.Context, ideaID, ticketID int64) error {
	if f.replaceTicketFn != nil {
		return f.replaceTicketFn(ctx, ideaID, ticketID)
	}
	return nil
}

func (f *fakeStore) ReplaceRFC(ctx context.Context, ideaID int64, link string) error {
	if f.replaceRFCFn != nil {
		return f.replaceRFCFn(ctx, ideaID, link)
	}
	return nil
}

func (f *fakeStore) DeleteIdea(ctx context.Context, ideaID int64) (bool, error) {
	if f.deleteIdeaFn != nil {
		return f.deleteIdeaFn(ctx, ideaID)
	}
	return true, nil
}

func (f *fakeStore) Statuses(ctx context.Context) ([]store.Status, error) {
	if f.statusesFn != nil {
		return f.statusesFn(ctx)
	}
	return []store.Status{
		{ID: store.StatusNew, Name: "new"},
		{ID: store.StatusInProgress, Name: "in_progress"},
		{ID: store.StatusDuplicate, Name: "duplicate"},
		{ID: store.StatusRejected, Name: "rejected"},
		{ID: store.StatusInvalid, Name: "invalid"},
		{ID: store.StatusImplemented, Name: "implemented"},
	}, nil
}

func (f *fakeStore) StatusName(ctx context.Context, statusID int) (string, error) {
	if f.statusNameFn != nil {
		return f.statusNameFn(ctx, statusID)
	}
	return "new", nil
}

func (f *fakeStore) GetUserByID(ctx context.Context, userID int64) (store.User, error) {
	if f.getUserByIDFn != nil {
		return f.getUserByIDFn(ctx, userID)
	}
	return store.User{ID: userID, Username: "tester"}, nil
}

func (f *fakeStore) GetUserByName(ctx context.Context, username string) (store.User, error) {
	if f.getUserByNameFn != nil {
		return f.getUserByNameFn(ctx, username)
	}
	return store.User{ID: 1, Username: username}, nil
}

func (f *fakeStore) Ping(ctx context.Context) error { return nil }

type fakeForum struct {
	createTopicFn   func(ctx context.Context, forumID, posterID int64, title, body string) (int64, error)
	deleteTopicFn   func(ctx context.Context, topicID int64) error
	lastPostTimesFn func(ctx context.Context, topicIDs []int64) (map[int64]time.Time, error)
}

func (f *fakeForum) CreateTopic(ctx context.Context, forumID, posterID int64, title, body string) (int64, error) {
	if f.createTopicFn != nil {
		return f.createTopicFn(ctx, forumID, posterID, title, body)
	}
	return 500, nil
}

func (f *fakeForum) DeleteTopic(ctx context.Context, topicID int64) error {
	if f.deleteTopicFn != nil {
		return f.deleteTopicFn(ctx, topicID)
	}
	return nil
}

func (f *fakeForum) LastPostTimes(ctx context.Context, topicIDs []int64) (map[int64]time.Time, error) {
	if f.lastPostTimesFn != nil {
		return f.lastPostTimesFn(ctx, topicIDs)
	}
	return map[int64]time.Time{}, nil
}

type fakeTracker struct {
	marked       []int64
	readStatesFn func(ctx context.Context, userID int64, lastPost map[int64]time.Time) (map[int64]bool, error)
}

func (f *fakeTracker) MarkRead(ctx context.Context, userID, topicID int64, at time.Time) error {
	f.marked = append(f.marked, topicID)
	return nil
}

func (f *fakeTracker) ReadStates(ctx context.Context, userID int64, lastPost map[int64]time.Time) (map[int64]bool, error) {
	if f.readStatesFn != nil {
		return f.readStatesFn(ctx, userID, lastPost)
	}
	return map[int64]bool{}, nil
}

type fakeAudit struct {
	entries []audit.Entry
}

func (f *fakeAudit) Append(ctx context.Context, actorID int64, action, subject string) error {
	f.entries = append(f.entries, audit.Entry{ActorID: actorID, Action: action, Subject: subject})
	return nil
}

func (f *fakeAudit) Recent(ctx context.Context, limit int) ([]audit.Entry, error) {
	return f.entries, nil
}

func testConfig() config.Config {
	return config.Config{
		ForumID:   7,
		PosterID:  99,
		BaseURL:   "https://example.test/ideas",
		ListLimit: 10,
	}
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestService(st *fakeStore, forum *fakeForum, tracker *fakeTracker, auditor *fakeAudit) *Service {
	var f forumService
	if forum != nil {
		f = forum
	}
	var tr readTracker
	if tracker != nil {
		tr = tracker
	}
	var a auditLog
	if auditor != nil {
		a = auditor
	}
	return New(testConfig(), st, f, tr, a, nil, quietLogger())
}

func requireDomainError(t *testing.T, err error, status int, code string) *DomainError {
	t.Helper()
	var domainErr *DomainError
	if !errors.As(err, &domainErr) {
		t.Fatalf("expected DomainError, got %v", err)
	}
	if domainErr.Status != status || domainErr.Code != code {
		t.Fatalf("expected %d %s, got %d %s", status, code, domainErr.Status, domainErr.Code)
	}
	return domainErr
}

func TestSubmitIdeaValidation(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil, nil, nil)
	ctx := context.Background()

	cases := []struct {
		name        string
		title       string
		description string
		wantErr     bool
	}{
		{"title one under minimum", strings.Repeat("t", 5), "valid description", true},
		{"title at minimum", strings.Repeat("t", 6), "valid description", false},
		{"title at maximum", strings.Repeat("t", 64), "valid description", false},
		{"title one over maximum", strings.Repeat("t", 65), "valid description", true},
		{"description one under minimum", "valid title", strings.Repeat("d", 4), true},
		{"description at minimum", "valid title", strings.Repeat("d", 5), false},
		{"description at maximum", "valid title", strings.Repeat("d", 9900), false},
		{"description one over maximum", "valid title", strings.Repeat("d", 9901), true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.SubmitIdea(ctx, 1, tc.title, tc.description)
			if tc.wantErr {
				requireDomainError(t, err, 422, "VALIDATION_FAILED")
			} else if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestSubmitIdeaCollectsAllFieldErrors(t *testing.T) {
	svc := newTestService(&fakeStore{}, nil, nil, nil)

	_, err := svc.SubmitIdea(context.Background(), 1, "no", "x")
	domainErr := requireDomainError(t, err, 422, "VALIDATION_FAILED")

	fieldErrors, ok := domainErr.Details.([]string)
	if !ok {
		t.Fatalf("expected []string details, got %T", domainErr.Details)
	}
	if len(fieldErrors) != 2 {
		t.Fatalf("expected 2 field errors, got %v", fieldErrors)
	}
}

func TestSubmitIdeaUnknownAuthor(t *testing.T) {
	st := &fakeStore{
		getUserByIDFn: func(ctx context.Context, userID int64) (store.User, error) {
			return store.User{}, sql.ErrNoRows
		},
	}
	svc := newTestService(st, nil, nil, nil)

	_, err := svc.SubmitIdea(context.Background(), 42, "valid title", "valid description")
	requireDomainError(t, err, 404, "NOT_FOUND")
}

func TestSubmitIdeaCastsAuthorVoteAndMirrorsTopic(t *testing.T) {
	var votedIdea, votedUser int64
	var votedUp bool
	var linkedIdea, linkedTopic int64

	st := &fakeStore{
		insertIdeaFn: func(ctx context.Context, title, description string, authorID int64) (int64, error) {
			return 11, nil
		},
		castVoteFn: func(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error) {
			votedIdea, votedUser, votedUp = ideaID, userID, up
			return store.VoteOutcome{Inserted: true, VotesUp: 1}, nil
		},
		linkTopicFn: func(ctx context.Context, ideaID, topicID int64) error {
			linkedIdea, linkedTopic = ideaID, topicID
			return nil
		},
		getUserByIDFn: func(ctx context.Context, userID int64) (store.User, error) {
			return store.User{ID: userID, Username: "ada"}, nil
		},
	}

	var gotForum, gotPoster int64
	var gotBody string
	forum := &fakeForum{
		createTopicFn: func(ctx context.Context, forumID, posterID int64, title, body string) (int64, error) {
			gotForum, gotPoster, gotBody = forumID, posterID, body
			return 900, nil
		},
	}

	svc := newTestService(st, forum, nil, nil)
	ideaID, err := svc.SubmitIdea(context.Background(), 42, "valid title", "valid description")
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if ideaID != 11 {
		t.Fatalf("expected idea 11, got %d", ideaID)
	}
	if votedIdea != 11 || votedUser != 42 || !votedUp {
		t.Fatalf("author upvote not cast: idea=%d user=%d up=%v", votedIdea, votedUser, votedUp)
	}
	if gotForum != 7 || gotPoster != 99 {
		t.Fatalf("topic posted with wrong identity: forum=%d poster=%d", gotForum, gotPoster)
	}
	if !strings.Contains(gotBody, "https://example.test/ideas/11") {
		t.Fatalf("topic body missing idea link: %q", gotBody)
	}
	if !strings.Contains(gotBody, "Idea posted by ada") {
		t.Fatalf("topic body missing author attribution: %q", gotBody)
	}
	if linkedIdea != 11 || linkedTopic != 900 {
		t.Fatalf("topic not linked back: idea=%d topic=%d", linkedIdea, linkedTopic)
	}
}

func TestVoteRejectsUnknownValue(t *testing.T) {
	castCalled := false
	st := &fakeStore{
		castVoteFn: func(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error) {
			castCalled = true
			return store.VoteOutcome{}, nil
		},
	}
	svc := newTestService(st, nil, nil, nil)

	for _, value := range []string{"", "sideways", "UP", "1"} {
		_, err := svc.Vote(context.Background(), 1, 2, value)
		requireDomainError(t, err, 400, "INVALID_VOTE")
	}
	if castCalled {
		t.Fatal("ledger must not be touched for invalid vote values")
	}
}

func TestVoteUnknownIdea(t *testing.T) {
	st := &fakeStore{
		getIdeaFn: func(ctx context.Context, ideaID int64) (store.Idea, error) {
			return store.Idea{}, sql.ErrNoRows
		},
	}
	svc := newTestService(st, nil, nil, nil)

	_, err := svc.Vote(context.Background(), 1, 2, "up")
	requireDomainError(t, err, 404, "NOT_FOUND")
}

func TestVoteMessages(t *testing.T) {
	outcome := store.VoteOutcome{}
	st := &fakeStore{
		castVoteFn: func(ctx context.Context, ideaID, userID int64, up bool) (store.VoteOutcome, error) {
			return outcome, nil
		},
	}
	svc := newTestService(st, nil, nil, nil)
	ctx := context.Background()

	outcome = store.VoteOutcome{Inserted: true, VotesUp: 3, VotesDown: 1}
	result, err := svc.Vote(ctx, 1, 2, "up")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if result.Message != "vote recorded" || result.Points != 2 {
		t.Fatalf("unexpected result %+v", result)
	}

	outcome = store.VoteOutcome{Updated: true, VotesUp: 2, VotesDown: 2}
	result, err = svc.Vote(ctx, 1, 2, "down")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if result.Message != "vote updated" || result.Points != 0 {
		t.Fatalf("unexpected result %+v", result)
	}

	// Same polarity again: no insert, no update, totals echoed back.
	outcome = store.VoteOutcome{VotesUp: 2, VotesDown: 2}
	result, err = svc.Vote(ctx, 1, 2, "down")
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if result.Message != "vote updated" || result.VotesUp != 2 || result.VotesDown != 2 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestRemoveVoteWithoutPriorVote(t *testing.T) {
	st := &fakeStore{
		removeVoteFn: func(ctx context.Context, ideaID, userID int64) (store.VoteOutcome, error) {
			return store.VoteOutcome{VotesUp: 5, VotesDown: 2}, nil
		},
	}
	svc := newTestService(st, nil, nil, nil)

	result, err := svc.RemoveVote(context.Background(), 1, 2)
	if err != nil {
		t.Fatalf("remove vote: %v", err)
	}
	if result.VotesUp != 5 || result.VotesDown != 2 || result.Points != 3 {
		t.Fatalf("unexpected result %+v", result)
	}
}

func TestSetTitleRejectsBadLengths(t *testing.T) {
	storeCalled := false
	st := &fakeStore{
		setTitleFn: func(ctx context.Context, ideaID int64, title string) (bool, error) {
			storeCalled = true
			return true, nil
		},
	}
	auditLog := &fakeAudit{}
	svc := newTestService(st, nil, nil, auditLog)

	for _, title := range []string{"short", strings.Repeat("t", 65)} {
		updated, err := svc.SetTitle(context.Background(), 1, 2, title)
		if err != nil {
			t.Fatalf("set title: %v", err)
		}
		if updated {
			t.Fatalf("title %q must be rejected", title)
		}
	}
	if storeCalled {
		t.Fatal("store must not be touched for invalid titles")
	}
	if len(auditLog.entries) != 0 {
		t.Fatal("rejected edits must not be audited")
	}
}

func TestSetTitleAudits(t *testing.T) {
	auditLog := &fakeAudit{}
	svc := newTestService(&fakeStore{}, nil, nil, auditLog)

	updated, err := svc.SetTitle(context.Background(), 9, 2, "renamed idea")
	if err != nil || !updated {
		t.Fatalf("set title: updated=%v err=%v", updated, err)
	}
	if len(auditLog.entries) != 1 {
		t.Fatalf("expected 1 audit entry, got %d", len(auditLog.entries))
	}
	entry := auditLog.entries[0]
	if entry.ActorID != 9 || entry.Action != "idea_title_edited" || entry.Subject != "idea:2" {
		t.Fatalf("unexpected audit entry %+v", entry)
	}
}

func TestChangeStatus(t *testing.T) {
	var gotStatus int
	st := &fakeStore{
		setStatusFn: func(ctx context.Context, ideaID int64, status int) error {
			gotStatus = status
			return nil
		},
	}
	auditLog := &fakeAudit{}
	svc := newTestService(st, nil, nil, auditLog)
	ctx := context.Background()

	if err := svc.ChangeStatus(ctx, 9, 2, 99); err == nil {
		t.Fatal("unknown status must fail")
	} else {
		requireDomainError(t, err, 422, "VALIDATION_FAILED")
	}

	if err := svc.ChangeStatus(ctx, 9, 2, store.StatusImplemented); err != nil {
		t.Fatalf("change status: %v", err)
	}
	if gotStatus != store.StatusImplemented {
		t.Fatalf("expected status %d, got %d", store.StatusImplemented, gotStatus)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != "idea_status_changed" {
		t.Fatalf("expected status change audit, got %+v", auditLog.entries)
	}
}

func TestCrossRefsDropMalformedInputSilently(t *testing.T) {
	replaceCalled := false
	st := &fakeStore{
		replaceDuplicateFn: func(ctx context.Context, ideaID, duplicateID int64) error {
			replaceCalled = true
			return nil
		},
		replaceTicketFn: func(ctx context.Context, ideaID, ticketID int64) error {
			replaceCalled = true
			return nil
		},
		replaceRFCFn: func(ctx context.Context, ideaID int64, link string) error {
			replaceCalled = true
			return nil
		},
	}
	svc := newTestService(st, nil, nil, nil)
	ctx := context.Background()

	if err := svc.SetDuplicate(ctx, 9, 1, "not-a-number"); err != nil {
		t.Fatalf("set duplicate: %v", err)
	}
	if err := svc.SetTicket(ctx, 9, 1, "PHPBB3-abc"); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if err := svc.SetRFC(ctx, 9, 1, "https://evil.example/viewtopic.php"); err != nil {
		t.Fatalf("set rfc: %v", err)
	}
	if replaceCalled {
		t.Fatal("malformed references must not reach the store")
	}
}

func TestCrossRefsAcceptAndClear(t *testing.T) {
	var dupValue, ticketValue int64 = -1, -1
	rfcValue := "sentinel"
	st := &fakeStore{
		replaceDuplicateFn: func(ctx context.Context, ideaID, duplicateID int64) error {
			dupValue = duplicateID
			return nil
		},
		replaceTicketFn: func(ctx context.Context, ideaID, ticketID int64) error {
			ticketValue = ticketID
			return nil
		},
		replaceRFCFn: func(ctx context.Context, ideaID int64, link string) error {
			rfcValue = link
			return nil
		},
	}
	svc := newTestService(st, nil, nil, nil)
	ctx := context.Background()

	if err := svc.SetDuplicate(ctx, 9, 1, "37"); err != nil {
		t.Fatalf("set duplicate: %v", err)
	}
	if dupValue != 37 {
		t.Fatalf("expected duplicate 37, got %d", dupValue)
	}

	if err := svc.SetTicket(ctx, 9, 1, "12345"); err != nil {
		t.Fatalf("set ticket: %v", err)
	}
	if ticketValue != 12345 {
		t.Fatalf("expected ticket 12345, got %d", ticketValue)
	}

	link := "https://area51.phpbb.com/phpBB/viewtopic.php?f=1&t=2"
	if err := svc.SetRFC(ctx, 9, 1, link); err != nil {
		t.Fatalf("set rfc: %v", err)
	}
	if rfcValue != link {
		t.Fatalf("expected rfc %q, got %q", link, rfcValue)
	}

	if err := svc.SetDuplicate(ctx, 9, 1, ""); err != nil {
		t.Fatalf("clear duplicate: %v", err)
	}
	if dupValue != 0 {
		t.Fatalf("expected duplicate cleared, got %d", dupValue)
	}
	if err := svc.SetRFC(ctx, 9, 1, ""); err != nil {
		t.Fatalf("clear rfc: %v", err)
	}
	if rfcValue != "" {
		t.Fatalf("expected rfc cleared, got %q", rfcValue)
	}
}

// Self-references pass through unchecked. The admin surface is trusted with
// the consequences; this pins the behavior so a future check is a conscious
// change.
func TestSetDuplicateAllowsSelfReference(t *testing.T) {
	var dupValue int64
	st := &fakeStore{
		replaceDuplicateFn: func(ctx context.Context, ideaID, duplicateID int64) error {
			dupValue = duplicateID
			return nil
		},
	}
	svc := newTestService(st, nil, nil, nil)

	if err := svc.SetDuplicate(context.Background(), 9, 5, "5"); err != nil {
		t.Fatalf("set duplicate: %v", err)
	}
	if dupValue != 5 {
		t.Fatalf("expected self reference stored, got %d", dupValue)
	}
}

func TestDeleteResolvesTopicFromIdea(t *testing.T) {
	var deletedTopic int64
	st := &fakeStore{
		getIdeaFn: func(ctx context.Context, ideaID int64) (store.Idea, error) {
			return store.Idea{ID: ideaID, TopicID: 321}, nil
		},
	}
	forum := &fakeForum{
		deleteTopicFn: func(ctx context.Context, topicID int64) error {
			deletedTopic = topicID
			return nil
		},
	}
	auditLog := &fakeAudit{}
	svc := newTestService(st, forum, nil, auditLog)

	deleted, err := svc.Delete(context.Background(), 9, 2, 0)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted {
		t.Fatal("expected deletion")
	}
	if deletedTopic != 321 {
		t.Fatalf("expected topic 321 deleted, got %d", deletedTopic)
	}
	if len(auditLog.entries) != 1 || auditLog.entries[0].Action != "idea_deleted" {
		t.Fatalf("expected deletion audit, got %+v", auditLog.entries)
	}
}

func TestDeleteContinuesWhenTopicDeleteFails(t *testing.T) {
	cascadeRan := false
	st := &fakeStore{
		deleteIdeaFn: func(ctx context.Context, ideaID int64) (bool, error) {
			cascadeRan = true
			return true, nil
		},
	}
	forum := &fakeForum{
		deleteTopicFn: func(ctx context.Context, topicID int64) error {
			return errors.New("forum unavailable")
		},
	}
	svc := newTestService(st, forum, nil, nil)

	deleted, err := svc.Delete(context.Background(), 9, 2, 77)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if !deleted || !cascadeRan {
		t.Fatal("local cascade must run even when the topic delete fails")
	}
}

func TestDeleteMissingIdea(t *testing.T) {
	st := &fakeStore{
		getIdeaFn: func(ctx context.Context, ideaID int64) (store.Idea, error) {
			return store.Idea{}, sql.ErrNoRows
		},
		deleteIdeaFn: func(ctx context.Context, ideaID int64) (bool, error) {
			return false, nil
		},
	}
	auditLog := &fakeAudit{}
	svc := newTestService(st, nil, nil, auditLog)

	deleted, err := svc.Delete(context.Background(), 9, 404, 0)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if deleted {
		t.Fatal("missing idea must report deleted=false")
	}
	if len(auditLog.entries) != 0 {
		t.Fatal("no-op deletions must not be audited")
	}
}

func TestListIdeasDefaultFilter(t *testing.T) {
	var gotExcluded []int
	st := &fakeStore{
		listIdeasFn: func(ctx context.Context, excludeStatuses []int) ([]store.Idea, error) {
			gotExcluded = excludeStatuses
			return nil, nil
		},
	}
	svc := newTestService(st, nil, nil, nil)
	ctx := context.Background()

	if _, err := svc.ListIdeas(ctx, 0, "", "", 0, false); err != nil {
		t.Fatalf("list: %v", err)
	}
	want := []int{store.StatusDuplicate, store.StatusRejected, store.StatusInvalid}
	if len(gotExcluded) != len(want) {
		t.Fatalf("expected %v excluded, got %v", want, gotExcluded)
	}
	for i, status := range want {
		if gotExcluded[i] != status {
			t.Fatalf("expected %v excluded, got %v", want, gotExcluded)
		}
	}

	if _, err := svc.ListIdeas(ctx, 0, "", "", 0, true); err != nil {
		t.Fatalf("list all: %v", err)
	}
	if gotExcluded != nil {
		t.Fatalf("filter=all must not exclude statuses, got %v", gotExcluded)
	}
}

func TestListIdeasReadAnnotation(t *testing.T) {
	now := time.Now()
	st := &fakeStore{
		listIdeasFn: func(ctx context.Context, excludeStatuses []int) ([]store.Idea, error) {
			return []store.Idea{
				{ID: 1, Status: store.StatusNew, TopicID: 100, CreatedAt: now},
				{ID: 2, Status: store.StatusNew, TopicID: 200, CreatedAt: now},
				{ID: 3, Status: store.StatusNew, TopicID: 300, CreatedAt: now},
			}, nil
		},
	}
	forum := &fakeForum{}
	tracker := &fakeTracker{
		readStatesFn: func(ctx context.Context, userID int64, lastPost map[int64]time.Time) (map[int64]bool, error) {
			return map[int64]bool{100: true, 200: false}, nil
		},
	}
	svc := newTestService(st, forum, tracker, nil)

	items, err := svc.ListIdeas(context.Background(), 42, "", "", 0, false)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("expected 3 ideas, got %d", len(items))
	}
	// Topic 100 is read, 200 is unread, 300 has no tracking entry and
	// therefore counts as read.
	if !items[0].Read || items[1].Read || !items[2].Read {
		t.Fatalf("unexpected read flags: %v %v %v", items[0].Read, items[1].Read, items[2].Read)
	}
}

func TestGetIdeaMarksTopicRead(t *testing.T) {
	st := &fakeStore{
		getIdeaFn: func(ctx context.Context, ideaID int64) (store.Idea, error) {
			return store.Idea{ID: ideaID, Status: store.StatusNew, TopicID: 555}, nil
		},
	}
	tracker := &fakeTracker{}
	svc := newTestService(st, nil, tracker, nil)
	ctx := context.Background()

	if _, err := svc.GetIdea(ctx, 42, 1); err != nil {
		t.Fatalf("get idea: %v", err)
	}
	if len(tracker.marked) != 1 || tracker.marked[0] != 555 {
		t.Fatalf("expected topic 555 marked read, got %v", tracker.marked)
	}

	// Anonymous viewers leave no marker.
	if _, err := svc.GetIdea(ctx, 0, 1); err != nil {
		t.Fatalf("get idea: %v", err)
	}
	if len(tracker.marked) != 1 {
		t.Fatalf("anonymous view must not mark read, got %v", tracker.marked)
	}
}

func TestGetIdeaNotFound(t *testing.T) {
	st := &fakeStore{
		getIdeaFn: func(ctx context.Context, ideaID int64) (store.Idea, error) {
			return store.Idea{}, sql.ErrNoRows
		},
	}
	svc := newTestService(st, nil, nil, nil)

	_, err := svc.GetIdea(context.Background(), 0, 12)
	requireDomainError(t, err, 404, "NOT_FOUND")
}
