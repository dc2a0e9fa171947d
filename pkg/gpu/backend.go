package gpu

import (
	"context"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/pkg/aggregator"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

// Backend drives one Device batch by batch. Batches never overlap.
type Backend struct {
	device Device
	setup  Setup
	logger *logger.Logger
}

// NewBackend validates job against what the kernel can enforce and prepares
// the per-run device inputs.
func NewBackend(job *types.Job, dev Device, log *logger.Logger) (*Backend, error) {
	if kind := pattern.KindOf(job.Pattern); kind != pattern.KindPrefix {
		return nil, fmt.Errorf("%w: got %s pattern %q", ErrUnsupportedPattern, kind, pattern.Describe(job.Pattern))
	}
	// a longer prefix never matches and the run would never end
	if _, n := pattern.ProjectGPU(job.Pattern); n > common.AddressLength {
		return nil, fmt.Errorf("%w: prefix of %d bytes exceeds %d", ErrUnsupportedPattern, n, common.AddressLength)
	}

	batchSize := job.BatchSize
	if batchSize == 0 {
		batchSize = DefaultBatchSize
	}
	workgroupSize := job.WorkgroupSize
	if workgroupSize == 0 {
		workgroupSize = DefaultWorkgroupSize
	}

	info, data := NewPatternInfo(job.Pattern)
	b := &Backend{
		device: dev,
		logger: log,
		setup: Setup{
			BaseSalt:          job.BaseSalt,
			Deployer:          job.Deployer,
			ProxyInitCodeHash: crypto.ProxyInitCodeHash,
			Pattern:           info,
			PatternData:       data,
			BatchSize:         batchSize,
			WorkgroupSize:     workgroupSize,
		},
	}
	if wg := b.setup.Workgroups(); wg > MaxWorkgroups {
		return nil, fmt.Errorf("%w: %d lanes / %d per group = %d groups (max %d)",
			ErrDispatchTooLarge, batchSize, workgroupSize, wg, MaxWorkgroups)
	}
	return b, nil
}

// BatchSize returns the number of candidates per dispatch.
func (b *Backend) BatchSize() uint32 {
	return b.setup.BatchSize
}

// Search runs batches until ctx is done or sink stops accepting matches.
// Cancellation is only observed between batches.
func (b *Backend) Search(ctx context.Context, sink types.Sink, meter *aggregator.Meter) error {
	if err := b.device.Setup(&b.setup); err != nil {
		return fmt.Errorf("gpu setup on %s: %w", b.device.Name(), err)
	}
	defer b.device.Release()

	b.logger.Printf("GPU: %s, %d lanes per batch, %d workgroups of %d",
		b.device.Name(), b.setup.BatchSize, b.setup.Workgroups(), b.setup.WorkgroupSize)

	done := ctx.Done()
	for nonce := uint64(0); ; nonce++ {
		select {
		case <-done:
			return nil
		default:
		}
		if nonce == math.MaxUint64 {
			return ErrNonceExhausted
		}

		records, err := b.runBatch(nonce)
		if err != nil {
			return fmt.Errorf("batch %d: %w", nonce, err)
		}
		meter.AddBatch(uint64(b.setup.BatchSize))

		if len(records) > 0 {
			b.logger.Debugf("Found %d matches in batch %d", len(records), nonce)
		}
		for _, r := range records {
			if !sink.Submit(ctx, types.Match{Salt: r.Salt, Address: r.Address}) {
				return nil
			}
		}
	}
}

// runBatch dispatches one batch and returns the records of its matching lanes.
// Both staging buffers are unmapped before it returns.
func (b *Backend) runBatch(nonce uint64) ([]Record, error) {
	flags, err := b.device.RunBatch(nonce)
	if err != nil {
		return nil, err
	}

	var lanes []uint32
	for i, f := range flags {
		if f != 0 {
			lanes = append(lanes, uint32(i))
		}
	}

	var records []Record
	if len(lanes) > 0 {
		records, err = b.device.ReadRecords(lanes)
	}
	if uerr := b.device.Unmap(); err == nil {
		err = uerr
	}
	if err != nil {
		return nil, err
	}
	return records, nil
}
