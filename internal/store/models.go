package store

import "time"

// Idea status IDs, mirrored by the idea_statuses catalog table.
const (
	StatusNew         = 1
	StatusInProgress  = 2
	StatusDuplicate   = 3
	StatusRejected    = 4
	StatusInvalid     = 5
	StatusImplemented = 6
)

// DefaultExcludedStatuses is the status filter applied to listings unless the
// caller asks for everything: duplicates, rejected and invalid ideas are hidden.
var DefaultExcludedStatuses = []int{StatusDuplicate, StatusRejected, StatusInvalid}

func KnownStatus(status int) bool {
	return status >= StatusNew && status <= StatusImplemented
}

type Idea struct {
	ID          int64
	Title       string
	Description string
	AuthorID    int64
	AuthorName  string
	Status      int
	CreatedAt   time.Time
	VotesUp     int
	VotesDown   int
	// TopicID is 0 until the lifecycle coordinator links a discussion topic.
	TopicID int64
}

func (i Idea) Score() int { return i.VotesUp - i.VotesDown }
func (i Idea) Votes() int { return i.VotesUp + i.VotesDown }

// CrossRefs holds the three optional 0-or-1 relations of an idea. Zero values
// mean the relation is unset.
type CrossRefs struct {
	DuplicateID int64
	TicketID    int64
	RFCLink     string
}

type Status struct {
	ID   int
	Name string
}

type User struct {
	ID       int64
	Username string
	Colour   string
}

type Voter struct {
	UserID   int64
	Username string
	Colour   string
	Up       bool
}

// VoteOutcome reports what a ledger write actually did, plus the counter
// totals as they stand after the operation.
type VoteOutcome struct {
	Inserted  bool
	Updated   bool
	Removed   bool
	VotesUp   int
	VotesDown int
}
