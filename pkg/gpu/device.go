// Package gpu searches salt space in large batches on a compute device.
//
// The host drives a Device through a serial protocol: patch the batch nonce
// into the device-resident base salt, dispatch one batch, read back only the
// per-lane match flags, then copy out the records of flagged lanes alone.
package gpu

import (
	"encoding/binary"
	"errors"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/create3-miner/pkg/pattern"
)

const (
	// DefaultBatchSize is the number of candidates per dispatch
	DefaultBatchSize = 1_000_000
	// DefaultWorkgroupSize is the lane count per dispatch group
	DefaultWorkgroupSize = 256
	// MaxWorkgroups is the per-dimension dispatch limit of WebGPU
	MaxWorkgroups = 65535

	// RecordSize is one lane's result: salt (32) + address (20)
	RecordSize = 32 + common.AddressLength
	// FlagSize is one lane's match flag (u32)
	FlagSize = 4
)

var (
	ErrUnavailable        = errors.New("gpu support not compiled in (build with -tags wgpu)")
	ErrNoAdapter          = errors.New("no compute-capable gpu adapter")
	ErrUnsupportedPattern = errors.New("gpu backend only supports prefix patterns")
	ErrNonceExhausted     = errors.New("batch nonce space exhausted")
	ErrDispatchTooLarge   = errors.New("batch needs more workgroups than one dispatch allows")
	ErrNotMapped          = errors.New("match flags are not mapped")
	ErrStillMapped        = errors.New("staging buffers still mapped")
)

// PatternInfo is the pattern descriptor uploaded to the device. Layout
// matches the kernel's PatternInfo struct: four little-endian u32.
type PatternInfo struct {
	Kind        uint32
	HasLeading  uint32
	HasTrailing uint32
	PrefixLen   uint32
}

// Bytes encodes the descriptor for upload.
func (p PatternInfo) Bytes() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], p.Kind)
	binary.LittleEndian.PutUint32(b[4:], p.HasLeading)
	binary.LittleEndian.PutUint32(b[8:], p.HasTrailing)
	binary.LittleEndian.PutUint32(b[12:], p.PrefixLen)
	return b
}

// NewPatternInfo builds the descriptor and prefix bytes for pat from its GPU
// projection.
func NewPatternInfo(pat pattern.Pattern) (PatternInfo, [pattern.MaxPrefixLen]byte) {
	var data [pattern.MaxPrefixLen]byte
	info := PatternInfo{Kind: uint32(pattern.KindOf(pat))}
	if adv, ok := pat.(pattern.Advanced); ok {
		if adv.Leading != nil {
			info.HasLeading = 1
		}
		if adv.Trailing != nil {
			info.HasTrailing = 1
		}
	}
	prefix, n := pattern.ProjectGPU(pat)
	info.PrefixLen = uint32(copy(data[:], prefix[:min(n, len(data))]))
	return info, data
}

// Setup holds everything uploaded once per run.
type Setup struct {
	BaseSalt          [32]byte
	Deployer          common.Address
	ProxyInitCodeHash [32]byte
	Pattern           PatternInfo
	PatternData       [pattern.MaxPrefixLen]byte
	BatchSize         uint32
	WorkgroupSize     uint32
}

// Workgroups returns the dispatch size covering BatchSize lanes.
func (s *Setup) Workgroups() uint32 {
	return (s.BatchSize + s.WorkgroupSize - 1) / s.WorkgroupSize
}

// ParamsBytes encodes the kernel's uniform Params struct.
func (s *Setup) ParamsBytes() []byte {
	b := make([]byte, 16)
	binary.LittleEndian.PutUint32(b[0:], s.BatchSize)
	return b
}

// Record is one lane's (salt, address) pair
type Record struct {
	Salt    common.Hash
	Address common.Address
}

// DecodeRecord reads a RecordSize-byte lane record.
func DecodeRecord(b []byte) Record {
	var r Record
	copy(r.Salt[:], b[:32])
	copy(r.Address[:], b[32:RecordSize])
	return r
}

func encodeRecord(dst []byte, salt *[32]byte, addr *common.Address) {
	copy(dst[:32], salt[:])
	copy(dst[32:RecordSize], addr[:])
}

// Device is a compute device running the salt search kernel. Calls are
// strictly serial: Setup once, then RunBatch, optionally ReadRecords, and
// Unmap for every batch, then Release.
type Device interface {
	// Name describes the adapter.
	Name() string
	// Setup uploads the read-only inputs and allocates per-batch buffers.
	Setup(s *Setup) error
	// RunBatch patches nonce into the base salt, runs one batch and returns
	// the mapped match flags, one per lane. The slice is valid until Unmap.
	RunBatch(nonce uint64) ([]uint32, error)
	// ReadRecords copies out the records of the given lanes of the last batch.
	ReadRecords(lanes []uint32) ([]Record, error)
	// Unmap releases the host mappings of the last batch.
	Unmap() error
	// Release frees every device resource.
	Release()
}
