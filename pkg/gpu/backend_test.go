package gpu

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/pkg/aggregator"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

var testDeployer = common.HexToAddress("0x1234567890abcdef1234567890abcdef12345678")

func testJob(t *testing.T, text string, limit int) *types.Job {
	t.Helper()
	pat, err := pattern.ParseStrict(text)
	require.NoError(t, err)
	return &types.Job{
		BaseSaltText:  "test.salt.v1",
		BaseSalt:      crypto.HashBaseSalt("test.salt.v1"),
		Deployer:      testDeployer,
		Pattern:       pat,
		Limit:         limit,
		Backend:       types.BackendGPU,
		WorkgroupSize: 64,
		BatchSize:     4096,
	}
}

// recordingDevice plays back scripted match flags and records the protocol.
type recordingDevice struct {
	setupErr  error
	batchSize uint32
	matches   map[uint64][]uint32 // nonce -> matching lanes
	stopAfter int
	cancel    context.CancelFunc

	nonces    []uint64
	readLanes [][]uint32
	unmaps    int
	mapped    bool
	released  bool
}

func (d *recordingDevice) Name() string { return "recording" }

func (d *recordingDevice) Setup(s *Setup) error {
	d.batchSize = s.BatchSize
	return d.setupErr
}

func (d *recordingDevice) RunBatch(nonce uint64) ([]uint32, error) {
	if d.mapped {
		return nil, ErrStillMapped
	}
	d.nonces = append(d.nonces, nonce)
	if d.stopAfter > 0 && len(d.nonces) == d.stopAfter {
		d.cancel()
	}
	flags := make([]uint32, d.batchSize)
	for _, lane := range d.matches[nonce] {
		flags[lane] = 1
	}
	d.mapped = true
	return flags, nil
}

func (d *recordingDevice) ReadRecords(lanes []uint32) ([]Record, error) {
	d.readLanes = append(d.readLanes, append([]uint32(nil), lanes...))
	nonce := d.nonces[len(d.nonces)-1]
	records := make([]Record, len(lanes))
	for i, lane := range lanes {
		salt := LaneSalt([32]byte{}, nonce, lane)
		records[i] = Record{Salt: salt, Address: common.Address{byte(lane)}}
	}
	return records, nil
}

func (d *recordingDevice) Unmap() error {
	d.unmaps++
	d.mapped = false
	return nil
}

func (d *recordingDevice) Release() { d.released = true }

type collectSink struct {
	limit   int
	matches []types.Match
}

func (s *collectSink) Submit(_ context.Context, m types.Match) bool {
	s.matches = append(s.matches, m)
	return len(s.matches) < s.limit
}

func TestBackendBatchNoncesIncrease(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const batches = 7
	dev := &recordingDevice{stopAfter: batches, cancel: cancel}
	b, err := NewBackend(testJob(t, "abcd", 1), dev, logger.Nop())
	require.NoError(t, err)

	meter := aggregator.NewMeter(time.Hour, nil)
	require.NoError(t, b.Search(ctx, &collectSink{limit: 1}, meter))

	require.Len(t, dev.nonces, batches)
	for i := 1; i < len(dev.nonces); i++ {
		assert.Greater(t, dev.nonces[i], dev.nonces[i-1])
	}
	assert.Equal(t, uint64(0), dev.nonces[0])
	assert.Equal(t, batches, dev.unmaps, "every batch is unmapped")
	assert.True(t, dev.released)

	snap := meter.Snapshot()
	assert.Equal(t, uint64(batches), snap.Batches)
	assert.Equal(t, uint64(batches)*uint64(b.BatchSize()), snap.Hashes)
}

func TestBackendReadsOnlyFlaggedLanes(t *testing.T) {
	dev := &recordingDevice{matches: map[uint64][]uint32{
		1: {3, 17},
		2: {4000},
	}}
	b, err := NewBackend(testJob(t, "abcd", 3), dev, logger.Nop())
	require.NoError(t, err)

	sink := &collectSink{limit: 3}
	require.NoError(t, b.Search(context.Background(), sink, aggregator.NewMeter(time.Hour, nil)))

	assert.Equal(t, [][]uint32{{3, 17}, {4000}}, dev.readLanes)
	assert.Equal(t, []uint64{0, 1, 2}, dev.nonces)
	require.Len(t, sink.matches, 3)
	assert.Equal(t, common.Address{3}, sink.matches[0].Address)
	assert.Equal(t, common.Address{17}, sink.matches[1].Address)
	assert.Equal(t, common.Hash(LaneSalt([32]byte{}, 2, 4000)), sink.matches[2].Salt)
}

func TestBackendSetupFailureIsFatal(t *testing.T) {
	boom := errors.New("no pipeline")
	dev := &recordingDevice{setupErr: boom}
	b, err := NewBackend(testJob(t, "abcd", 1), dev, logger.Nop())
	require.NoError(t, err)

	err = b.Search(context.Background(), &collectSink{limit: 1}, aggregator.NewMeter(time.Hour, nil))
	assert.ErrorIs(t, err, boom)
	assert.Empty(t, dev.nonces)
}

func TestNewBackendValidation(t *testing.T) {
	for _, text := range []string{"ab...cd", "(ab|cd)[0-9a-f]{36}"} {
		_, err := NewBackend(testJob(t, text, 1), &recordingDevice{}, logger.Nop())
		assert.ErrorIs(t, err, ErrUnsupportedPattern, text)
	}

	for _, n := range []int{common.AddressLength + 1, pattern.MaxPrefixLen} {
		job := testJob(t, "abcd", 1)
		job.Pattern = make(pattern.Prefix, n)
		_, err := NewBackend(job, &recordingDevice{}, logger.Nop())
		assert.ErrorIs(t, err, ErrUnsupportedPattern, "%d-byte prefix", n)
	}
	job := testJob(t, "abcd", 1)
	job.Pattern = make(pattern.Prefix, common.AddressLength)
	_, err := NewBackend(job, &recordingDevice{}, logger.Nop())
	require.NoError(t, err)

	job = testJob(t, "abcd", 1)
	job.BatchSize = 1_000_000
	job.WorkgroupSize = 1
	_, err = NewBackend(job, &recordingDevice{}, logger.Nop())
	assert.ErrorIs(t, err, ErrDispatchTooLarge)

	job.BatchSize = 0
	job.WorkgroupSize = 0
	b, err := NewBackend(job, &recordingDevice{}, logger.Nop())
	require.NoError(t, err)
	assert.Equal(t, uint32(DefaultBatchSize), b.BatchSize())
	assert.Equal(t, uint32(3907), b.setup.Workgroups())
}

func TestBackendWithHostDeviceReturnsExactLimit(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	const limit = 5
	job := testJob(t, "00", limit)
	b, err := NewBackend(job, NewHostDevice(), logger.Nop())
	require.NoError(t, err)

	agg := aggregator.New(limit, cancel, nil)
	go agg.Run(ctx)
	require.NoError(t, b.Search(ctx, agg, aggregator.NewMeter(time.Hour, nil)))

	matches := agg.Matches()
	require.Len(t, matches, limit)
	for _, m := range matches {
		assert.Equal(t, byte(0), m.Address[0])
		assert.Equal(t, crypto.SaltToAddress(m.Salt, testDeployer), m.Address)
		assert.Equal(t, job.BaseSalt[12:], m.Salt[12:], "tail of the base salt is kept")
	}
}
