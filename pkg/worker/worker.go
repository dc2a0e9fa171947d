package worker

import (
	"context"
	"encoding/binary"
	"math/rand/v2"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/pkg/aggregator"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

// ReportEvery is how many local iterations a worker batches before adding
// them to the shared hash counter.
const ReportEvery = 10000

// Salt layout: bytes [0:8] change every attempt, bytes [24:32] are fixed per
// worker to keep workers in disjoint regions, the rest come from the base salt.
const (
	attemptOffset = 0
	regionOffset  = 24
)

// Worker explores one private slice of salt space
type Worker struct {
	id      int
	pattern pattern.Pattern
	rng     *rand.Rand
	deriver *crypto.Deriver

	// Pre-allocated candidate state
	salt [32]byte
	addr common.Address
}

// NewWorker creates worker id. Workers built with the same seed and id try
// the same salts in the same order.
func NewWorker(id int, seed uint64, baseSalt common.Hash, deployer common.Address, pat pattern.Pattern) *Worker {
	w := &Worker{
		id:      id,
		pattern: pat,
		rng:     rand.New(rand.NewPCG(seed, uint64(id))),
		deriver: crypto.NewDeriver(deployer),
		salt:    baseSalt,
	}
	binary.BigEndian.PutUint64(w.salt[regionOffset:], w.rng.Uint64())
	return w
}

// Step tries the next salt and reports whether its address matches.
func (w *Worker) Step() bool {
	binary.BigEndian.PutUint64(w.salt[attemptOffset:], w.rng.Uint64())
	w.addr = w.deriver.Derive(&w.salt)
	return pattern.Match(w.pattern, &w.addr)
}

// Salt returns the salt tried by the last Step
func (w *Worker) Salt() common.Hash {
	return w.salt
}

// Address returns the address derived by the last Step
func (w *Worker) Address() common.Address {
	return w.addr
}

// Run steps until ctx is done or sink stops accepting matches. Every step
// tried is counted on meter by the time Run returns.
func (w *Worker) Run(ctx context.Context, sink types.Sink, meter *aggregator.Meter) error {
	done := ctx.Done()
	var local uint64
	defer func() {
		meter.Add(local % ReportEvery)
	}()

	for {
		// Check if we should stop before each attempt
		select {
		case <-done:
			return nil
		default:
		}

		matched := w.Step()
		local++
		if local%ReportEvery == 0 {
			meter.Add(ReportEvery)
		}

		if matched && !sink.Submit(ctx, types.Match{Salt: w.salt, Address: w.addr}) {
			return nil
		}
	}
}
