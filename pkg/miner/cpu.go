package miner

import (
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/screa/create3-miner/pkg/aggregator"
	"github.com/screa/create3-miner/pkg/types"
	"github.com/screa/create3-miner/pkg/worker"
)

// cpuBackend runs one worker per thread until the run is cancelled
type cpuBackend struct {
	job     *types.Job
	threads int
}

func newCPUBackend(job *types.Job) *cpuBackend {
	threads := job.Threads
	if threads <= 0 {
		threads = runtime.NumCPU()
	}
	return &cpuBackend{job: job, threads: threads}
}

func (b *cpuBackend) Search(ctx context.Context, sink types.Sink, meter *aggregator.Meter) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < b.threads; i++ {
		w := worker.NewWorker(i, b.job.Seed, b.job.BaseSalt, b.job.Deployer, b.job.Pattern)
		g.Go(func() error {
			return w.Run(ctx, sink, meter)
		})
	}
	return g.Wait()
}
