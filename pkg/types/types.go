package types

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/create3-miner/pkg/pattern"
)

// Backend selects the search engine for a job
type Backend string

const (
	BackendCPU Backend = "cpu"
	BackendGPU Backend = "gpu"
)

// Match is a salt whose CREATE3 address satisfies the job's pattern
type Match struct {
	Salt    common.Hash
	Address common.Address
}

// Result represents a finished (or interrupted) mining run
type Result struct {
	Matches  []Match
	Hashes   uint64
	Duration time.Duration
}

// Rate returns hashes per second over the run
func (r *Result) Rate() float64 {
	if r.Duration.Seconds() <= 0 {
		return 0
	}
	return float64(r.Hashes) / r.Duration.Seconds()
}

// Job is the immutable input of a mining run
type Job struct {
	BaseSaltText string
	BaseSalt     common.Hash // keccak256(BaseSaltText)
	Deployer     common.Address
	Pattern      pattern.Pattern
	Limit        int
	Backend      Backend

	// CPU backend
	Threads int
	Seed    uint64

	// GPU backend
	WorkgroupSize uint32
	BatchSize     uint32
	GPUAdapter    string

	LogInterval time.Duration
}

// Sink receives matches from a search backend. Submit returns false once the
// run no longer accepts matches; the backend should stop.
type Sink interface {
	Submit(ctx context.Context, m Match) bool
}
