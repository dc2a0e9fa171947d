package gpu

import (
	"encoding/binary"
	"fmt"
	"runtime"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/screa/create3-miner/internal/crypto"
)

// HostDevice executes the search kernel on the host CPU, lane for lane the
// way the WGSL kernel does. It keeps the same buffers and the same
// flags-then-records readback so the batch protocol runs unchanged on it.
type HostDevice struct {
	setup       Setup
	parallelism int

	// device-resident buffers
	baseSalt [32]byte
	results  []byte
	flags    []uint32

	// host-visible staging
	flagStaging   []uint32
	recordStaging []byte
	mapped        bool
}

// NewHostDevice creates a host device using every available CPU.
func NewHostDevice() *HostDevice {
	return &HostDevice{parallelism: runtime.GOMAXPROCS(0)}
}

func (d *HostDevice) Name() string {
	return fmt.Sprintf("host reference kernel (%d threads)", d.parallelism)
}

func (d *HostDevice) Setup(s *Setup) error {
	if s.BatchSize == 0 || s.WorkgroupSize == 0 {
		return fmt.Errorf("invalid batch geometry: batch %d, workgroup %d", s.BatchSize, s.WorkgroupSize)
	}
	d.setup = *s
	d.baseSalt = s.BaseSalt
	d.results = make([]byte, int(s.BatchSize)*RecordSize)
	d.flags = make([]uint32, s.BatchSize)
	d.flagStaging = make([]uint32, s.BatchSize)
	return nil
}

func (d *HostDevice) RunBatch(nonce uint64) ([]uint32, error) {
	if d.mapped {
		return nil, ErrStillMapped
	}
	copy(d.baseSalt[NonceOffset:], NonceBytes(nonce))

	if err := d.dispatch(); err != nil {
		return nil, err
	}

	copy(d.flagStaging, d.flags)
	d.mapped = true
	return d.flagStaging, nil
}

// dispatch runs every lane of one batch, split into contiguous chunks.
func (d *HostDevice) dispatch() error {
	lanes := int(d.setup.BatchSize)
	chunk := (lanes + d.parallelism - 1) / d.parallelism

	var g errgroup.Group
	for start := 0; start < lanes; start += chunk {
		end := min(start+chunk, lanes)
		g.Go(func() error {
			d.runLanes(uint32(start), uint32(end))
			return nil
		})
	}
	return g.Wait()
}

func (d *HostDevice) runLanes(start, end uint32) {
	deriver := crypto.NewDeriver(d.setup.Deployer)
	salt := d.baseSalt
	var addr common.Address
	for lane := start; lane < end; lane++ {
		binary.BigEndian.PutUint32(salt[LaneOffset:], lane)
		addr = deriver.Derive(&salt)

		if KernelMatch(d.setup.Pattern, &d.setup.PatternData, &addr) {
			d.flags[lane] = 1
		} else {
			d.flags[lane] = 0
		}
		encodeRecord(d.results[int(lane)*RecordSize:], &salt, &addr)
	}
}

func (d *HostDevice) ReadRecords(lanes []uint32) ([]Record, error) {
	if !d.mapped {
		return nil, ErrNotMapped
	}
	d.recordStaging = make([]byte, len(lanes)*RecordSize)
	for i, lane := range lanes {
		if lane >= d.setup.BatchSize {
			return nil, fmt.Errorf("lane %d outside batch of %d", lane, d.setup.BatchSize)
		}
		off := int(lane) * RecordSize
		copy(d.recordStaging[i*RecordSize:], d.results[off:off+RecordSize])
	}

	records := make([]Record, len(lanes))
	for i := range records {
		records[i] = DecodeRecord(d.recordStaging[i*RecordSize:])
	}
	return records, nil
}

func (d *HostDevice) Unmap() error {
	d.mapped = false
	d.recordStaging = nil
	return nil
}

func (d *HostDevice) Release() {
	d.results = nil
	d.flags = nil
	d.flagStaging = nil
	d.recordStaging = nil
	d.mapped = false
}
