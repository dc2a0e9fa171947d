package gpu

import (
	_ "embed"
	"encoding/binary"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"github.com/screa/create3-miner/pkg/pattern"
)

// Lane salt layout shared by the kernel and the host mirror below.
const (
	NonceOffset = 0 // 8 bytes, big-endian, written by the host per batch
	LaneOffset  = 8 // 4 bytes, big-endian, written by the kernel per lane
)

const workgroupSizePlaceholder = "__WORKGROUP_SIZE__"

//go:embed shader.wgsl
var shaderTemplate string

// ShaderSource returns the WGSL kernel compiled for workgroupSize lanes per group.
func ShaderSource(workgroupSize uint32) string {
	return strings.ReplaceAll(shaderTemplate, workgroupSizePlaceholder, strconv.FormatUint(uint64(workgroupSize), 10))
}

// NonceBytes is the patch the host writes at NonceOffset of the base salt.
func NonceBytes(nonce uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, nonce)
	return b
}

// LaneSalt returns the salt lane evaluates in the batch with the given nonce.
// Distinct (nonce, lane) pairs give distinct salts.
func LaneSalt(base [32]byte, nonce uint64, lane uint32) [32]byte {
	binary.BigEndian.PutUint64(base[NonceOffset:], nonce)
	binary.BigEndian.PutUint32(base[LaneOffset:], lane)
	return base
}

// KernelMatch is the kernel's match test: the prefix check for prefix
// descriptors, and match-everything for any other kind.
func KernelMatch(info PatternInfo, data *[pattern.MaxPrefixLen]byte, addr *common.Address) bool {
	if info.Kind != uint32(pattern.KindPrefix) {
		return true
	}
	if info.PrefixLen > common.AddressLength {
		return false
	}
	for i := uint32(0); i < info.PrefixLen; i++ {
		if addr[i] != data[i] {
			return false
		}
	}
	return true
}
