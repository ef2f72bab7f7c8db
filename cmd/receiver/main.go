package main

import (
	"fmt"
	"os"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/cipherline/cipherline/internal/cfg"
	"github.com/cipherline/cipherline/internal/logging"
	"github.com/cipherline/cipherline/internal/pipeline"
	"github.com/cipherline/cipherline/internal/sem"
	"github.com/cipherline/cipherline/internal/xcmd"
)

var cmd Cmd

// Cmd is the command line arguments.
type Cmd struct {
	// ConfigPath is the path to the optional configuration file.
	ConfigPath string
}

var rootCmd = &cobra.Command{
	Use:   "cipherline-receiver [auto|manual] [key:hex2] [delay-ms]",
	Short: "Drain ready slots and rebuild the input file at the output",
	Args:  cobra.MaximumNArgs(3),
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

	workerArgs, err := pipeline.ParseWorkerArgs(args)
	if err != nil {
		return err
	}
	log.Infow("starting receiver",
		"mode", workerArgs.Mode,
		"custom_key", workerArgs.Key != nil,
		"delay", workerArgs.Delay,
	)

	stop := xcmd.NotifyStopFlag(syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1)

	seg, err := pipeline.AttachWithRetry(config.AttachTimeout(), log)
	if err != nil {
		return err
	}
	defer seg.Detach()

	sems, err := sem.OpenSet(sem.DefaultNames())
	if err != nil {
		return err
	}
	defer sems.Close()

	h := seg.Header()
	out, err := pipeline.OpenOutput(config.ResolveOutputDir(), h.InputFileName(), h.FileSize)
	if err != nil {
		return err
	}
	defer out.Close()

	opts := []pipeline.Option{
		pipeline.WithLog(log),
		pipeline.WithStopFlag(stop),
		pipeline.WithStepper(workerArgs.Stepper(os.Stdin, os.Stdout)),
	}
	if workerArgs.Key != nil {
		opts = append(opts, pipeline.WithKey(*workerArgs.Key))
	}

	return pipeline.NewReceiver(seg, sems, out, opts...).Run()
}
