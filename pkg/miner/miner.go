package miner

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/internal/report"
	"github.com/screa/create3-miner/pkg/aggregator"
	"github.com/screa/create3-miner/pkg/gpu"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

// HostAdapter selects the host-executed reference kernel as GPU adapter
const HostAdapter = "host"

// DefaultLogInterval is used when the job sets no progress interval
const DefaultLogInterval = 5 * time.Second

var (
	ErrInterrupted    = errors.New("mining interrupted before the limit was reached")
	ErrUnknownBackend = errors.New("unknown backend")
	ErrUnknownAdapter = errors.New("unknown gpu adapter")
	ErrInvalidLimit   = errors.New("limit must be at least 1")
)

// searcher is a search backend: it feeds matches to sink until ctx is done
// or sink refuses one
type searcher interface {
	Search(ctx context.Context, sink types.Sink, meter *aggregator.Meter) error
}

// Option configures a Miner
type Option func(*Miner)

// WithGPUDevice makes the GPU backend use dev instead of opening an adapter
func WithGPUDevice(dev gpu.Device) Option {
	return func(m *Miner) {
		m.device = dev
	}
}

// Miner runs one job on its selected backend and collects the matches
type Miner struct {
	job    *types.Job
	logger *logger.Logger
	device gpu.Device

	done chan struct{}
	once sync.Once
}

// NewMiner creates a new miner instance
func NewMiner(job *types.Job, log *logger.Logger, opts ...Option) *Miner {
	m := &Miner{
		job:    job,
		logger: log,
		done:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Mine searches until the job's limit is reached, ctx is cancelled or Stop is
// called. The returned result always holds the matches found so far, in
// discovery order; an interrupted run also returns ErrInterrupted.
func (m *Miner) Mine(ctx context.Context) (*types.Result, error) {
	if err := crypto.VerifyProxyInitCode(); err != nil {
		return nil, err
	}
	if m.job.Limit < 1 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidLimit, m.job.Limit)
	}

	backend, err := m.backend()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-m.done:
			cancel()
		case <-runCtx.Done():
		}
	}()

	start := time.Now()
	agg := aggregator.New(m.job.Limit, cancel, m.logMatch)
	meter := aggregator.NewMeter(m.logInterval(), m.logProgress)
	go agg.Run(runCtx)

	m.logger.Printf("Mining started: %s, backend %s, limit %d",
		pattern.Describe(m.job.Pattern), m.job.Backend, m.job.Limit)

	searchErr := backend.Search(runCtx, agg, meter)
	cancel()

	result := &types.Result{
		Matches:  agg.Matches(),
		Hashes:   meter.Snapshot().Hashes,
		Duration: time.Since(start),
	}
	if searchErr != nil {
		return result, searchErr
	}
	if !agg.LimitReached() {
		return result, ErrInterrupted
	}
	return result, nil
}

// Stop cancels a running Mine. It is safe to call more than once.
func (m *Miner) Stop() {
	m.once.Do(func() { close(m.done) })
}

func (m *Miner) backend() (searcher, error) {
	switch m.job.Backend {
	case types.BackendCPU:
		b := newCPUBackend(m.job)
		m.logger.Printf("CPU: %d workers, seed %d", b.threads, m.job.Seed)
		return b, nil
	case types.BackendGPU:
		// reject unsupported patterns before touching a device
		if kind := pattern.KindOf(m.job.Pattern); kind != pattern.KindPrefix {
			return nil, fmt.Errorf("%w: got %s pattern", gpu.ErrUnsupportedPattern, kind)
		}
		dev, err := m.openDevice()
		if err != nil {
			return nil, err
		}
		return gpu.NewBackend(m.job, dev, m.logger)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, m.job.Backend)
}

func (m *Miner) openDevice() (gpu.Device, error) {
	if m.device != nil {
		return m.device, nil
	}
	switch m.job.GPUAdapter {
	case "":
		return gpu.NewWGPUDevice()
	case HostAdapter:
		return gpu.NewHostDevice(), nil
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownAdapter, m.job.GPUAdapter)
}

func (m *Miner) logInterval() time.Duration {
	if m.job.LogInterval > 0 {
		return m.job.LogInterval
	}
	return DefaultLogInterval
}

func (m *Miner) logMatch(n int, match types.Match) {
	m.logger.Printf("Found matching salt: %s address: %s (%d/%d)",
		match.Salt.Hex(), match.Address.Hex(), n, m.job.Limit)
}

func (m *Miner) logProgress(s aggregator.Snapshot) {
	if s.Batches > 0 {
		m.logger.Printf("Speed: %s, Total: %s hashes in %.1fs, %d batches",
			report.FormatRate(s.Rate()), report.FormatCount(s.Hashes), s.Elapsed.Seconds(), s.Batches)
		return
	}
	m.logger.Printf("Speed: %s, Total: %s hashes in %.1fs",
		report.FormatRate(s.Rate()), report.FormatCount(s.Hashes), s.Elapsed.Seconds())
}
