package gpu

import (
	"fmt"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"

	"github.com/screa/create3-miner/pkg/pattern"
)

func TestLaneSaltsAreUnique(t *testing.T) {
	var base [32]byte
	for i := range base {
		base[i] = byte(i * 7)
	}

	seen := make(map[[32]byte]struct{})
	for nonce := uint64(0); nonce < 4; nonce++ {
		for lane := uint32(0); lane < 512; lane++ {
			s := LaneSalt(base, nonce, lane)
			_, dup := seen[s]
			assert.False(t, dup, "nonce %d lane %d", nonce, lane)
			seen[s] = struct{}{}
			assert.Equal(t, base[12:], s[12:])
		}
	}

	// extremes of both counters stay distinct
	assert.NotEqual(t, LaneSalt(base, ^uint64(0)-1, ^uint32(0)), LaneSalt(base, ^uint64(0)-2, ^uint32(0)))
}

func TestShaderSource(t *testing.T) {
	src := ShaderSource(128)
	assert.NotContains(t, src, workgroupSizePlaceholder)
	assert.Contains(t, src, "const WORKGROUP_SIZE: u32 = 128u;")
	assert.Contains(t, src, "fn main(")
	for binding := 0; binding < 8; binding++ {
		assert.Contains(t, src, fmt.Sprintf("@binding(%d)", binding))
	}
	assert.Equal(t, 1, strings.Count(src, "@compute"))
}

func TestKernelMatch(t *testing.T) {
	addr := common.HexToAddress("0xabcd000000000000000000000000000000000001")

	info, data := NewPatternInfo(pattern.Prefix{0xab, 0xcd})
	assert.Equal(t, PatternInfo{Kind: 0, PrefixLen: 2}, info)
	assert.True(t, KernelMatch(info, &data, &addr))

	info, data = NewPatternInfo(pattern.Prefix{0xab, 0xce})
	assert.False(t, KernelMatch(info, &data, &addr))

	long := make(pattern.Prefix, 21)
	info, data = NewPatternInfo(long)
	assert.False(t, KernelMatch(info, &data, &addr))

	adv, _ := pattern.Parse("ab...")
	info, data = NewPatternInfo(adv)
	assert.Equal(t, PatternInfo{Kind: uint32(pattern.KindAdvanced), HasLeading: 1}, info)
	assert.True(t, KernelMatch(info, &data, &addr), "non-prefix descriptors match everything on the kernel")
}

func TestPatternInfoBytes(t *testing.T) {
	b := PatternInfo{Kind: 2, HasLeading: 1, HasTrailing: 1, PrefixLen: 0x0102}.Bytes()
	assert.Equal(t, []byte{2, 0, 0, 0, 1, 0, 0, 0, 1, 0, 0, 0, 0x02, 0x01, 0, 0}, b)
}
