// Package planner turns the resolver's active instrument set into the
// batched token requests the upstream quote API accepts.
package planner

import (
	"sort"

	"github.com/bhavesh0009/NFO-dashboard/pkg/models"
)

// Batch is one upstream quote request: tokens of a single exchange
// segment, at most the provider's per-request limit.
type Batch struct {
	Exchange string
	Tokens   []string
}

// Planner chunks instrument sets deterministically so the same input
// always yields the same batches.
type Planner struct {
	maxBatchSize int
}

// New creates a planner with the provider's per-request token limit.
func New(maxBatchSize int) *Planner {
	if maxBatchSize <= 0 {
		maxBatchSize = 50
	}
	return &Planner{maxBatchSize: maxBatchSize}
}

// Plan deduplicates by token, groups by exchange, orders tokens
// ascending within each group, and chunks each group to the batch
// limit. Exchanges come out in sorted order.
func (p *Planner) Plan(instruments []*models.Instrument) []Batch {
	seen := make(map[string]struct{}, len(instruments))
	byExchange := make(map[string][]string)

	for _, ins := range instruments {
		if ins == nil || ins.Token == "" {
			continue
		}
		if _, dup := seen[ins.Token]; dup {
			continue
		}
		seen[ins.Token] = struct{}{}
		byExchange[ins.Exchange] = append(byExchange[ins.Exchange], ins.Token)
	}

	exchanges := make([]string, 0, len(byExchange))
	for exch := range byExchange {
		exchanges = append(exchanges, exch)
	}
	sort.Strings(exchanges)

	var batches []Batch
	for _, exch := range exchanges {
		tokens := byExchange[exch]
		sort.Strings(tokens)
		for start := 0; start < len(tokens); start += p.maxBatchSize {
			end := start + p.maxBatchSize
			if end > len(tokens) {
				end = len(tokens)
			}
			batches = append(batches, Batch{Exchange: exch, Tokens: tokens[start:end]})
		}
	}

	return batches
}
