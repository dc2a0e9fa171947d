// Package aggregator collects matches from search workers and accounts for
// search throughput.
package aggregator

import (
	"context"

	"github.com/screa/create3-miner/pkg/types"
)

// Aggregator is the single owner of a run's match list. Workers hand matches
// over an unbuffered channel; once the limit is reached the aggregator cancels
// the run and stops receiving, so no more than limit matches are ever kept.
type Aggregator struct {
	limit   int
	in      chan types.Match
	matches []types.Match
	cancel  context.CancelFunc
	onMatch func(n int, m types.Match)
	done    chan struct{}
}

// New creates an aggregator for limit matches. cancel is called exactly once
// when the limit is reached. onMatch, if set, runs on the aggregator goroutine
// for every accepted match with its 1-based position.
func New(limit int, cancel context.CancelFunc, onMatch func(n int, m types.Match)) *Aggregator {
	return &Aggregator{
		limit:   limit,
		in:      make(chan types.Match),
		matches: make([]types.Match, 0, limit),
		cancel:  cancel,
		onMatch: onMatch,
		done:    make(chan struct{}),
	}
}

// Run receives matches until the limit is reached or ctx is done.
func (a *Aggregator) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case m := <-a.in:
			a.matches = append(a.matches, m)
			if a.onMatch != nil {
				a.onMatch(len(a.matches), m)
			}
			if len(a.matches) >= a.limit {
				a.cancel()
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

// Submit hands m to the aggregator. It returns false without recording m when
// the run is over.
func (a *Aggregator) Submit(ctx context.Context, m types.Match) bool {
	select {
	case a.in <- m:
		return true
	case <-ctx.Done():
		return false
	case <-a.done:
		return false
	}
}

// Done is closed when Run returns.
func (a *Aggregator) Done() <-chan struct{} {
	return a.done
}

// Matches returns the accepted matches in discovery order. Call it after Done
// is closed.
func (a *Aggregator) Matches() []types.Match {
	<-a.done
	return a.matches
}

// LimitReached reports whether the run ended because the limit was hit.
func (a *Aggregator) LimitReached() bool {
	<-a.done
	return len(a.matches) >= a.limit
}
