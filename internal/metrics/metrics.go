package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	IdeasSubmitted prometheus.Counter
	IdeasDeleted   prometheus.Counter
	VotesCast      prometheus.Counter
	VotesRetracted prometheus.Counter
}

func New() *Metrics {
	return &Metrics{
		IdeasSubmitted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ideaboard_ideas_submitted_total",
			Help: "Total number of ideas submitted",
		}),
		IdeasDeleted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ideaboard_ideas_deleted_total",
			Help: "Total number of ideas deleted",
		}),
		VotesCast: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ideaboard_votes_cast_total",
			Help: "Total number of votes recorded or updated",
		}),
		VotesRetracted: promauto.NewCounter(prometheus.CounterOpts{
			Name: "ideaboard_votes_retracted_total",
			Help: "Total number of votes retracted",
		}),
	}
}

func (m *Metrics) IncIdeasSubmitted() {
	if m != nil {
		m.IdeasSubmitted.Inc()
	}
}

func (m *Metrics) IncIdeasDeleted() {
	if m != nil {
		m.IdeasDeleted.Inc()
	}
}

func (m *Metrics) IncVotesCast() {
	if m != nil {
		m.VotesCast.Inc()
	}
}

func (m *Metrics) IncVotesRetracted() {
	if m != nil {
		m.VotesRetracted.Inc()
	}
}
