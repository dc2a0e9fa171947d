package crypto

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/crypto/sha3"
)

const (
	// ProxyInitCodeVersion names the proxy contract ProxyInitCodeHash belongs to.
	// Bump it together with the hash; results mined under another version are invalid.
	ProxyInitCodeVersion = "solmate-create3-proxy/v1"

	// Deployer-specific salt input: salt (32) + deployer (20) = 52
	SaltInputLen = 32 + 20

	// CREATE2 input layout: 0xff (1) + deployer (20) + salt (32) + proxy initcode hash (32) = 85
	Create2PrefixLen = 1 + 20
	Create2SaltLen   = 32
	Create2SuffixLen = 32
	Create2InputLen  = Create2PrefixLen + Create2SaltLen + Create2SuffixLen

	// CREATE input from the proxy: rlp([proxy, 1]) = 0xd6 0x94 (2) + proxy (20) + 0x01 (1) = 23
	CreateInputLen = 2 + 20 + 1

	// ProxyNonce is the proxy's nonce at its first and only contract creation.
	ProxyNonce = 1

	rlpListPrefix    = 0xd6 // list with a 22-byte payload
	rlpAddressPrefix = 0x94 // string of 20 bytes
)

var (
	ErrProxyHashMismatch = errors.New("proxy init code does not hash to the pinned proxy init code hash")
	ErrOddLength         = errors.New("hex string must have even length")
)

// ProxyInitCodeHash is keccak256 of the CREATE3 proxy creation code.
var ProxyInitCodeHash = common.Hash{
	0x21, 0xc3, 0x5d, 0xbe, 0x1b, 0x34, 0x4a, 0x24, 0x88, 0xcf, 0x33, 0x21,
	0xd6, 0xce, 0x54, 0x2f, 0x8e, 0x9f, 0x30, 0x55, 0x44, 0xff, 0x09, 0xe4,
	0x99, 0x3a, 0x62, 0x31, 0x9a, 0x49, 0x7c, 0x1f,
}

// proxyInitCode is the creation code of the proxy that CREATE2 deploys.
var proxyInitCode = []byte{
	0x67, 0x36, 0x3d, 0x3d, 0x37, 0x36, 0x3d, 0x34, 0xf0, 0x3d, 0x52, 0x60, 0x08, 0x60, 0x18, 0xf3,
}

// VerifyProxyInitCode rehashes the embedded proxy creation code and checks it
// against ProxyInitCodeHash.
func VerifyProxyInitCode() error {
	if !bytes.Equal(Keccak256(proxyInitCode), ProxyInitCodeHash[:]) {
		return fmt.Errorf("%w (%s)", ErrProxyHashMismatch, ProxyInitCodeVersion)
	}
	return nil
}

// Deriver computes CREATE3 addresses for a single deployer with preallocated
// buffers and one reusable hasher. Not safe for concurrent use; give each
// worker its own.
type Deriver struct {
	hasher      hash.Hash
	saltInput   [SaltInputLen]byte
	create2In   [Create2InputLen]byte
	createInput [CreateInputLen]byte
	sum         [32]byte
}

// NewDeriver primes the constant parts of every hash input for deployer.
func NewDeriver(deployer common.Address) *Deriver {
	d := &Deriver{hasher: sha3.NewLegacyKeccak256()}

	copy(d.saltInput[32:], deployer[:])

	d.create2In[0] = 0xff
	copy(d.create2In[1:Create2PrefixLen], deployer[:])
	copy(d.create2In[Create2PrefixLen+Create2SaltLen:], ProxyInitCodeHash[:])

	d.createInput[0] = rlpListPrefix
	d.createInput[1] = rlpAddressPrefix
	d.createInput[CreateInputLen-1] = ProxyNonce
	return d
}

func (d *Deriver) hashInto(input []byte) {
	d.hasher.Reset()
	d.hasher.Write(input)
	d.hasher.Sum(d.sum[:0])
}

// DeployerSpecificSalt writes keccak256(salt ‖ deployer) into out.
func (d *Deriver) DeployerSpecificSalt(salt, out *[32]byte) {
	copy(d.saltInput[:32], salt[:])
	d.hashInto(d.saltInput[:])
	*out = d.sum
}

// Create3Address derives the deployed address from an already deployer-specific salt.
func (d *Deriver) Create3Address(deployerSalt *[32]byte) (addr common.Address) {
	copy(d.create2In[Create2PrefixLen:Create2PrefixLen+Create2SaltLen], deployerSalt[:])
	d.hashInto(d.create2In[:])

	// proxy address is the low 20 bytes of the CREATE2 hash
	copy(d.createInput[2:22], d.sum[12:32])
	d.hashInto(d.createInput[:])

	copy(addr[:], d.sum[12:32])
	return addr
}

// Derive runs the full per-candidate pipeline: raw salt to deployer-specific
// salt to deployed address. The deployer-specific salt is recomputed on every call.
func (d *Deriver) Derive(salt *[32]byte) common.Address {
	var deployerSalt [32]byte
	d.DeployerSpecificSalt(salt, &deployerSalt)
	return d.Create3Address(&deployerSalt)
}

// DeployerSpecificSalt returns keccak256(salt ‖ deployer).
func DeployerSpecificSalt(salt common.Hash, deployer common.Address) common.Hash {
	return common.BytesToHash(Keccak256(append(salt.Bytes(), deployer.Bytes()...)))
}

// Create3Address returns the address a CREATE3 deployment from deployer lands
// on for the given deployer-specific salt.
func Create3Address(deployerSalt common.Hash, deployer common.Address) common.Address {
	var s [32]byte = deployerSalt
	return NewDeriver(deployer).Create3Address(&s)
}

// SaltToAddress combines DeployerSpecificSalt and Create3Address.
func SaltToAddress(salt common.Hash, deployer common.Address) common.Address {
	return Create3Address(DeployerSpecificSalt(salt, deployer), deployer)
}

// HashBaseSalt turns the operator's base salt text into the 32-byte search seed.
func HashBaseSalt(text string) common.Hash {
	return common.BytesToHash(Keccak256([]byte(text)))
}

// ---- helpers ----

func keccak256Bytes(b []byte) []byte {
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write(b)
	return h.Sum(nil)
}

// Keccak256 calculates the keccak256 hash of the input bytes
func Keccak256(data []byte) []byte {
	return keccak256Bytes(data)
}

func trimHexPrefix(s string) string {
	h := strings.TrimSpace(s)
	if len(h) >= 2 && (h[0:2] == "0x" || h[0:2] == "0X") {
		h = h[2:]
	}
	return h
}

// DecodeHex decodes a hex string (with or without 0x). Odd lengths are rejected
// rather than padded.
func DecodeHex(s string) ([]byte, error) {
	h := trimHexPrefix(s)
	if len(h)%2 != 0 {
		return nil, ErrOddLength
	}
	return hex.DecodeString(h)
}

// ParseAddress converts a hex address string to a 20-byte address.
func ParseAddress(s string) (common.Address, error) {
	h := trimHexPrefix(s)
	if len(h) != 40 {
		return common.Address{}, fmt.Errorf("invalid address length: got %d hex chars, want 40", len(h))
	}
	b, err := hex.DecodeString(h)
	if err != nil {
		return common.Address{}, fmt.Errorf("invalid address hex: %w", err)
	}
	return common.BytesToAddress(b), nil
}
