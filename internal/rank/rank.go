// Package rank orders idea snapshots. It is purely computational: it never
// touches storage and never mutates its input, so callers can rank a slightly
// stale snapshot without holding any locks.
package rank

import (
	"sort"
	"strings"

	"ideaboard/api/internal/store"
)

type Strategy string

const (
	StrategyAll    Strategy = "all"
	StrategyAuthor Strategy = "author"
	StrategyDate   Strategy = "date"
	StrategyID     Strategy = "id"
	StrategyScore  Strategy = "score"
	StrategyTitle  Strategy = "title"
	StrategyVotes  Strategy = "votes"
	StrategyTop    Strategy = "top"
)

type Direction string

const (
	Ascending  Direction = "asc"
	Descending Direction = "desc"
)

// ParseStrategy maps user input onto a ranking strategy. Unrecognized input
// falls back to natural storage order rather than erroring.
func ParseStrategy(input string) Strategy {
	switch Strategy(strings.ToLower(input)) {
	case StrategyAuthor, StrategyDate, StrategyID, StrategyScore, StrategyTitle, StrategyVotes, StrategyTop:
		return Strategy(strings.ToLower(input))
	case "best":
		return StrategyTop
	default:
		return StrategyAll
	}
}

func ParseDirection(input string) Direction {
	if strings.EqualFold(input, string(Ascending)) {
		return Ascending
	}
	return Descending
}

// comparator reports whether a sorts before b in descending order; Rank
// inverts it for ascending requests.
type comparator func(a, b store.Idea) bool

var comparators = map[Strategy]comparator{
	StrategyAuthor: func(a, b store.Idea) bool { return a.AuthorName > b.AuthorName },
	StrategyDate:   func(a, b store.Idea) bool { return a.CreatedAt.After(b.CreatedAt) },
	StrategyID:     func(a, b store.Idea) bool { return a.ID > b.ID },
	StrategyScore:  func(a, b store.Idea) bool { return a.Score() > b.Score() },
	StrategyTitle:  func(a, b store.Idea) bool { return a.Title > b.Title },
	StrategyVotes:  func(a, b store.Idea) bool { return a.Votes() > b.Votes() },
}

// Rank returns a new slice holding at most limit ideas ordered under the
// given strategy. The sort is stable and the input always arrives in id
// order, so ties keep their id order and equal inputs produce equal outputs.
// A non-positive limit means no cap.
func Rank(ideas []store.Idea, strategy Strategy, direction Direction, limit int) []store.Idea {
	items := make([]store.Idea, len(ideas))
	copy(items, ideas)

	switch strategy {
	case StrategyAll:
		// Natural storage order.
	case StrategyTop:
		filtered := items[:0]
		for _, item := range items {
			if item.VotesUp > item.VotesDown {
				filtered = append(filtered, item)
			}
		}
		items = filtered
		sortBy(items, direction, func(a, b store.Idea) bool {
			return LowerBound(a.VotesUp, a.VotesDown) > LowerBound(b.VotesUp, b.VotesDown)
		})
	default:
		if compare, ok := comparators[strategy]; ok {
			sortBy(items, direction, compare)
		}
	}

	if limit > 0 && len(items) > limit {
		items = items[:limit]
	}
	return items
}

func sortBy(items []store.Idea, direction Direction, compare comparator) {
	if direction == Ascending {
		descending := compare
		compare = func(a, b store.Idea) bool { return descending(b, a) }
	}
	sort.SliceStable(items, func(i, j int) bool {
		return compare(items[i], items[j])
	})
}
