package main

import (
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/screa/create3-miner/internal/config"
	"github.com/screa/create3-miner/internal/crypto"
	logpkg "github.com/screa/create3-miner/internal/logger"
	"github.com/screa/create3-miner/internal/report"
	minerpkg "github.com/screa/create3-miner/pkg/miner"
	"github.com/screa/create3-miner/pkg/pattern"
	"github.com/screa/create3-miner/pkg/types"
)

func main() {
	var rootCmd = &cobra.Command{
		Use:   "create3-miner",
		Short: "High-performance CREATE3 salt miner",
		Long: `A command line utility for mining CREATE3 salts.
It searches for salts whose CREATE3 address, for a given deployer, matches a
hex prefix, a regex, or a leading...trailing pattern, on the CPU or the GPU.`,
		RunE:          runMiner,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	config.RegisterFlags(rootCmd.Flags())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

type outcome struct {
	result *types.Result
	err    error
}

func runMiner(cmd *cobra.Command, args []string) error {
	// .env is optional
	_ = godotenv.Load()

	configFile, _ := cmd.Flags().GetString(config.KeyConfig)
	v, err := config.SetupViper(cmd.Flags(), configFile)
	if err != nil {
		return err
	}
	cfg := config.FromViper(v)
	if err := cfg.Validate(); err != nil {
		return err
	}

	runID := uuid.NewString()
	logger := setupLogging(cfg).With("run", runID)
	defer logger.Sync()

	job, err := cfg.Job(logger)
	if err != nil {
		return err
	}

	logger.Printf("Starting CREATE3 miner on %s", job.Backend)
	logger.Printf("Target: %s", pattern.Describe(job.Pattern))
	logger.Printf("Deployer: %s", job.Deployer.Hex())
	logger.Printf("Base salt: %q (%s)", job.BaseSaltText, job.BaseSalt.Hex())
	logger.Printf("Proxy: %s (%s)", crypto.ProxyInitCodeVersion, crypto.ProxyInitCodeHash.Hex())

	miner := minerpkg.NewMiner(job, logger)

	// Set up signal handling for Ctrl+C
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	resultChan := make(chan outcome, 1)
	go func() {
		result, err := miner.Mine(cmd.Context())
		resultChan <- outcome{result, err}
	}()

	var out outcome
	select {
	case out = <-resultChan:
	case <-sigChan:
		logger.Println("Received interrupt signal. Stopping miners...")
		miner.Stop()
		out = <-resultChan
	}

	interrupted := errors.Is(out.err, minerpkg.ErrInterrupted)
	if out.err != nil && !interrupted {
		return out.err
	}

	summary := report.NewSummary(runID, job, out.result, interrupted)
	report.Print(os.Stdout, summary)

	if cfg.Output != "" {
		if err := report.WriteYAML(cfg.Output, summary); err != nil {
			return err
		}
		logger.Printf("Results written to %s", cfg.Output)
	}
	return nil
}

func setupLogging(cfg *config.Config) *logpkg.Logger {
	var logger *logpkg.Logger
	if cfg.LogFile != "" {
		logger = logpkg.NewFile(cfg.LogFile)
	} else {
		logger = logpkg.New()
	}
	logger.SetVerbose(cfg.Verbose)
	return logger
}
