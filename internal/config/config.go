package config

import (
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/pkg/gpu"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

// EnvPrefix prefixes every environment variable the miner reads
const EnvPrefix = "CREATE3_MINER"

// MaxWorkgroupSize is the WebGPU default limit on invocations per workgroup
const MaxWorkgroupSize = 256

// Flag and config keys
const (
	KeyPattern       = "pattern"
	KeySalt          = "salt"
	KeyDeployer      = "deployer"
	KeyThreads       = "threads"
	KeyLimit         = "limit"
	KeyCPU           = "cpu"
	KeyGPU           = "gpu"
	KeyWorkgroupSize = "workgroup-size"
	KeyBatchSize     = "batch-size"
	KeyGPUAdapter    = "gpu-adapter"
	KeySeed          = "seed"
	KeyStrict        = "strict"
	KeyVerbose       = "verbose"
	KeyLogFile       = "log-file"
	KeyLogInterval   = "log-interval"
	KeyOutput        = "output"
	KeyConfig        = "config"
)

// Errors
var (
	ErrNoPattern            = errors.New("must specify --pattern")
	ErrNoSalt               = errors.New("must specify --salt")
	ErrNoDeployer           = errors.New("must specify --deployer")
	ErrInvalidDeployer      = errors.New("invalid deployer address")
	ErrBackendSelection     = errors.New("must specify exactly one of --cpu or --gpu")
	ErrInvalidLimit         = errors.New("--limit must be at least 1")
	ErrInvalidThreads       = errors.New("--threads must be at least 1")
	ErrInvalidWorkgroupSize = fmt.Errorf("--workgroup-size must be between 1 and %d", MaxWorkgroupSize)
	ErrInvalidBatchSize     = errors.New("--batch-size must be between 1 and 4294967295")
	ErrInvalidSeed          = errors.New("--seed must be an unsigned 64-bit integer")
)

// Config holds the application configuration
type Config struct {
	Pattern  string
	Salt     string
	Deployer string
	Limit    int

	CPU     bool
	Threads int
	Seed    string // empty draws a seed from the OS

	GPU           bool
	WorkgroupSize int
	BatchSize     int
	GPUAdapter    string

	Strict      bool
	Verbose     bool
	LogFile     string
	LogInterval int // Logging interval in seconds
	Output      string
}

// NewConfig creates a new configuration with default values
func NewConfig() *Config {
	return &Config{
		Limit:         1,
		Threads:       runtime.NumCPU(),
		WorkgroupSize: gpu.DefaultWorkgroupSize,
		BatchSize:     gpu.DefaultBatchSize,
		LogInterval:   5, // Default 5 seconds
	}
}

// RegisterFlags adds every configuration flag to fs with its default
func RegisterFlags(fs *pflag.FlagSet) {
	d := NewConfig()
	fs.StringP(KeyPattern, "p", "", "Address pattern: hex prefix, (a|b) regex, or leading...trailing (required)")
	fs.StringP(KeySalt, "s", "", "Base salt text, hashed with keccak256 (required)")
	fs.StringP(KeyDeployer, "d", "", "Deployer (CREATE3 factory) address (required)")
	fs.IntP(KeyThreads, "t", d.Threads, "Number of CPU worker threads")
	fs.IntP(KeyLimit, "l", d.Limit, "Number of matching salts to find")
	fs.Bool(KeyCPU, false, "Search on the CPU")
	fs.Bool(KeyGPU, false, "Search on the GPU (prefix patterns only)")
	fs.Int(KeyWorkgroupSize, d.WorkgroupSize, "GPU lanes per workgroup")
	fs.Int(KeyBatchSize, d.BatchSize, "GPU candidates per dispatch")
	fs.String(KeyGPUAdapter, "", `GPU adapter: empty for the hardware adapter, "host" for the host-executed kernel`)
	fs.String(KeySeed, "", "CPU worker seed for reproducible runs (default: random)")
	fs.Bool(KeyStrict, false, "Fail on pattern pieces that do not decode instead of weakening the pattern")
	fs.BoolP(KeyVerbose, "v", false, "Verbose output")
	fs.String(KeyLogFile, "", "Log file (default: stdout)")
	fs.IntP(KeyLogInterval, "i", d.LogInterval, "Progress logging interval in seconds")
	fs.StringP(KeyOutput, "o", "", "Write results to this YAML file")
	fs.String(KeyConfig, "", "Config file (yaml, json or toml)")
}

// SetupViper binds fs, the CREATE3_MINER_* environment and configFile, if
// set, into a new viper instance. Flags set on the command line win.
func SetupViper(fs *pflag.FlagSet, configFile string) (*viper.Viper, error) {
	v := viper.New()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", configFile, err)
		}
	}

	if err := v.BindPFlags(fs); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}
	return v, nil
}

// FromViper reads a Config from v
func FromViper(v *viper.Viper) *Config {
	return &Config{
		Pattern:       v.GetString(KeyPattern),
		Salt:          v.GetString(KeySalt),
		Deployer:      v.GetString(KeyDeployer),
		Limit:         v.GetInt(KeyLimit),
		CPU:           v.GetBool(KeyCPU),
		Threads:       v.GetInt(KeyThreads),
		Seed:          strings.TrimSpace(v.GetString(KeySeed)),
		GPU:           v.GetBool(KeyGPU),
		WorkgroupSize: v.GetInt(KeyWorkgroupSize),
		BatchSize:     v.GetInt(KeyBatchSize),
		GPUAdapter:    v.GetString(KeyGPUAdapter),
		Strict:        v.GetBool(KeyStrict),
		Verbose:       v.GetBool(KeyVerbose),
		LogFile:       v.GetString(KeyLogFile),
		LogInterval:   v.GetInt(KeyLogInterval),
		Output:        v.GetString(KeyOutput),
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Pattern == "" {
		return ErrNoPattern
	}
	if c.Salt == "" {
		return ErrNoSalt
	}
	if c.Deployer == "" {
		return ErrNoDeployer
	}
	if c.CPU == c.GPU {
		return ErrBackendSelection
	}
	if c.Limit < 1 {
		return ErrInvalidLimit
	}
	if c.CPU {
		if c.Threads < 1 {
			return ErrInvalidThreads
		}
		if _, err := c.seed(); err != nil {
			return err
		}
	}
	if c.GPU {
		if c.WorkgroupSize < 1 || c.WorkgroupSize > MaxWorkgroupSize {
			return ErrInvalidWorkgroupSize
		}
		if c.BatchSize < 1 || uint64(c.BatchSize) > uint64(^uint32(0)) {
			return ErrInvalidBatchSize
		}
	}
	return nil
}

// Backend returns the selected search backend
func (c *Config) Backend() types.Backend {
	if c.GPU {
		return types.BackendGPU
	}
	return types.BackendCPU
}

// Job parses the configuration into a mining job. Pattern fallbacks are
// logged as warnings, or returned as an error in strict mode.
func (c *Config) Job(log *logger.Logger) (*types.Job, error) {
	deployer, err := crypto.ParseAddress(c.Deployer)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrInvalidDeployer, c.Deployer, err)
	}

	var pat pattern.Pattern
	if c.Strict {
		if pat, err = pattern.ParseStrict(c.Pattern); err != nil {
			return nil, err
		}
	} else {
		var warnings []error
		pat, warnings = pattern.Parse(c.Pattern)
		for _, w := range warnings {
			log.Warnf("Pattern %q: %v", c.Pattern, w)
		}
	}

	seed, err := c.seed()
	if err != nil {
		return nil, err
	}

	return &types.Job{
		BaseSaltText:  c.Salt,
		BaseSalt:      crypto.HashBaseSalt(c.Salt),
		Deployer:      deployer,
		Pattern:       pat,
		Limit:         c.Limit,
		Backend:       c.Backend(),
		Threads:       c.Threads,
		Seed:          seed,
		WorkgroupSize: uint32(c.WorkgroupSize),
		BatchSize:     uint32(c.BatchSize),
		GPUAdapter:    c.GPUAdapter,
		LogInterval:   time.Duration(c.LogInterval) * time.Second,
	}, nil
}

func (c *Config) seed() (uint64, error) {
	if c.Seed == "" {
		var b [8]byte
		if _, err := rand.Read(b[:]); err != nil {
			return 0, fmt.Errorf("failed to draw seed: %w", err)
		}
		return binary.LittleEndian.Uint64(b[:]), nil
	}
	seed, err := strconv.ParseUint(c.Seed, 0, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidSeed, c.Seed)
	}
	return seed, nil
}
