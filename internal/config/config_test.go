package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/screa/create3-miner/internal/crypto"
	"github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/pkg/gpu"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

func validConfig() *Config {
	cfg := NewConfig()
	cfg.Pattern = "dead"
	cfg.Salt = "my.salt"
	cfg.Deployer = "0x9fc3da866e7df3a1c57ade1a97c9f00a70f010c8"
	cfg.CPU = true
	cfg.Seed = "42"
	return cfg
}

func TestNewConfigDefaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 1, cfg.Limit)
	assert.Equal(t, 256, cfg.WorkgroupSize)
	assert.Equal(t, 1_000_000, cfg.BatchSize)
	assert.Equal(t, 5, cfg.LogInterval)
	assert.Positive(t, cfg.Threads)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		err    error
	}{
		{"valid cpu", func(c *Config) {}, nil},
		{"valid gpu", func(c *Config) { c.CPU, c.GPU = false, true }, nil},
		{"no pattern", func(c *Config) { c.Pattern = "" }, ErrNoPattern},
		{"no salt", func(c *Config) { c.Salt = "" }, ErrNoSalt},
		{"no deployer", func(c *Config) { c.Deployer = "" }, ErrNoDeployer},
		{"no backend", func(c *Config) { c.CPU = false }, ErrBackendSelection},
		{"both backends", func(c *Config) { c.GPU = true }, ErrBackendSelection},
		{"zero limit", func(c *Config) { c.Limit = 0 }, ErrInvalidLimit},
		{"zero threads", func(c *Config) { c.Threads = 0 }, ErrInvalidThreads},
		{"bad seed", func(c *Config) { c.Seed = "-1" }, ErrInvalidSeed},
		{"threads ignored on gpu", func(c *Config) { c.CPU, c.GPU, c.Threads = false, true, 0 }, nil},
		{"workgroup too large", func(c *Config) { c.CPU, c.GPU, c.WorkgroupSize = false, true, 512 }, ErrInvalidWorkgroupSize},
		{"zero workgroup", func(c *Config) { c.CPU, c.GPU, c.WorkgroupSize = false, true, 0 }, ErrInvalidWorkgroupSize},
		{"zero batch", func(c *Config) { c.CPU, c.GPU, c.BatchSize = false, true, 0 }, ErrInvalidBatchSize},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestJob(t *testing.T) {
	cfg := validConfig()
	cfg.LogInterval = 2
	job, err := cfg.Job(logger.Nop())
	require.NoError(t, err)

	assert.Equal(t, common.HexToAddress(cfg.Deployer), job.Deployer)
	assert.Equal(t, crypto.HashBaseSalt("my.salt"), job.BaseSalt)
	assert.Equal(t, "my.salt", job.BaseSaltText)
	assert.Equal(t, pattern.Prefix{0xde, 0xad}, job.Pattern)
	assert.Equal(t, types.BackendCPU, job.Backend)
	assert.Equal(t, uint64(42), job.Seed)
	assert.Equal(t, 2*time.Second, job.LogInterval)
	assert.Equal(t, uint32(gpu.DefaultBatchSize), job.BatchSize)
}

func TestJobRandomSeed(t *testing.T) {
	cfg := validConfig()
	cfg.Seed = ""
	a, err := cfg.Job(logger.Nop())
	require.NoError(t, err)
	b, err := cfg.Job(logger.Nop())
	require.NoError(t, err)
	assert.NotEqual(t, a.Seed, b.Seed)
}

func TestJobInvalidDeployer(t *testing.T) {
	for _, d := range []string{"0x1234", "not an address", "0x9fc3da866e7df3a1c57ade1a97c9f00a70f010cz"} {
		cfg := validConfig()
		cfg.Deployer = d
		_, err := cfg.Job(logger.Nop())
		assert.ErrorIs(t, err, ErrInvalidDeployer, d)
	}
}

func TestJobPatternWarnings(t *testing.T) {
	cfg := validConfig()
	cfg.Pattern = "xyz"

	var buf bytes.Buffer
	job, err := cfg.Job(logger.NewWriter(&buf))
	require.NoError(t, err)
	assert.Equal(t, pattern.Prefix{}, job.Pattern, "undecodable prefix matches everything")
	assert.Contains(t, buf.String(), "WARN")
	assert.Contains(t, buf.String(), `Pattern "xyz"`)

	cfg.Strict = true
	_, err = cfg.Job(logger.Nop())
	assert.ErrorIs(t, err, pattern.ErrInvalidHex)
}

func newFlags(t *testing.T, args ...string) *pflag.FlagSet {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(args))
	return fs
}

func TestFromViperFlags(t *testing.T) {
	fs := newFlags(t, "-p", "00", "-s", "salt", "-d", "0x01", "--gpu", "--batch-size", "4096", "-l", "3")
	v, err := SetupViper(fs, "")
	require.NoError(t, err)

	cfg := FromViper(v)
	assert.Equal(t, "00", cfg.Pattern)
	assert.Equal(t, "salt", cfg.Salt)
	assert.Equal(t, "0x01", cfg.Deployer)
	assert.True(t, cfg.GPU)
	assert.False(t, cfg.CPU)
	assert.Equal(t, 4096, cfg.BatchSize)
	assert.Equal(t, 3, cfg.Limit)
	assert.Equal(t, 256, cfg.WorkgroupSize, "flag default")
}

func TestFromViperEnvAndFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "miner.yaml")
	require.NoError(t, os.WriteFile(path, []byte("pattern: beef\nsalt: from.file\nlimit: 7\nlog-interval: 9\n"), 0o644))
	t.Setenv("CREATE3_MINER_SALT", "from.env")
	t.Setenv("CREATE3_MINER_BATCH_SIZE", "8192")

	fs := newFlags(t, "--limit", "2")
	v, err := SetupViper(fs, path)
	require.NoError(t, err)

	cfg := FromViper(v)
	assert.Equal(t, "beef", cfg.Pattern, "config file")
	assert.Equal(t, "from.env", cfg.Salt, "env overrides file")
	assert.Equal(t, 2, cfg.Limit, "flag overrides file")
	assert.Equal(t, 9, cfg.LogInterval)
	assert.Equal(t, 8192, cfg.BatchSize)
}

func TestSetupViperMissingFile(t *testing.T) {
	_, err := SetupViper(newFlags(t), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}
