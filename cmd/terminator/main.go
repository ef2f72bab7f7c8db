package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cipherline/cipherline/internal/cfg"
	"github.com/cipherline/cipherline/internal/logging"
	"github.com/cipherline/cipherline/internal/terminate"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the optional configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "cipherline-terminator",
	Short: "Trigger an orderly shutdown, print statistics and remove all IPC objects",
	Args:  cobra.NoArgs,
	Run: func(_ *cobra.Command, _ []string) {
		if err := run(cmd); err != nil {
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

func run(cmd Cmd) error {
	config, err := cfg.LoadConfig(cmd.ConfigPath)
	if err != nil {
		return err
	}

	log, _, err := logging.Init(&config.Logging)
	if err != nil {
		return err
	}
	defer log.Sync()

	t := terminate.New(terminate.WithLog(log))
	return t.Run(context.Background())
}
