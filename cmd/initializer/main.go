package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/cipherline/cipherline/internal/cfg"
	"github.com/cipherline/cipherline/internal/initialize"
	"github.com/cipherline/cipherline/internal/logging"
	"github.com/cipherline/cipherline/internal/pipeline"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the optional configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "cipherline-init <input-file> <capacity> <key>",
	Short: "Create and seed the shared pipeline segment and semaphores",
	Args:  cobra.ExactArgs(3),
	Run: func(_ *cobra.Command, args []string) {
		if err := run(cmd, args); err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().StringVarP(&cmd.ConfigPath, "config", "c", "", "Path to the configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(cmd Cmd, args []string) error {
	config, err := cfg.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return err
	}

	log, _, err := logging.Init(&config.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	capacity, err := strconv.Atoi(args[1])
	if err != nil || capacity < 1 {
		return fmt.Errorf("capacity must be a positive integer, got %q", args[1])
	}

	key, err := pipeline.ParseKey(args[2])
	if err != nil {
		return err
	}

	return initialize.Run(initialize.Config{
		InputPath: args[0],
		Capacity:  int32(capacity),
		Key:       key,
	}, log)
}
