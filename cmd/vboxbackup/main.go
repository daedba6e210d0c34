// vboxbackup performs scheduled full-image backups of VirtualBox VMs,
// handling machines that are live at backup time and enforcing a retention
// window over the backup store. It is a thin dispatcher over the packages in
// internal/; all policy lives there.
package main

import (
	"errors"
	"fmt"
	"io"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/thediveo/enumflag/v2"

	"github.com/virtkit/vboxbackup/internal/archive"
	"github.com/virtkit/vboxbackup/internal/backup"
	"github.com/virtkit/vboxbackup/internal/config"
	"github.com/virtkit/vboxbackup/internal/progress"
	"github.com/virtkit/vboxbackup/internal/retention"
	"github.com/virtkit/vboxbackup/internal/vbox"
)

type runningPolicyFlag enumflag.Flag

const (
	policyPause runningPolicyFlag = iota
	policySuspend
	policySkip
	policyFail
	policyAllow
)

var runningPolicyIds = map[runningPolicyFlag][]string{
	policyPause:   {"pause"},
	policySuspend: {"suspend"},
	policySkip:    {"skip"},
	policyFail:    {"fail"},
	policyAllow:   {"allow"},
}

var runningPolicyValues = map[runningPolicyFlag]config.RunningVMPolicy{
	policyPause:   config.PolicyPause,
	policySuspend: config.PolicySuspend,
	policySkip:    config.PolicySkip,
	policyFail:    config.PolicyFail,
	policyAllow:   config.PolicyAllow,
}

var (
	configPath    string
	debug         bool
	noCleanup     bool
	handleRunning runningPolicyFlag
)

var rootCmd = &cobra.Command{
	Use:           "vboxbackup",
	Short:         "Automatic full-image backup of VirtualBox VMs with retention",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := mustConfig()
		if cmd.Flags().Changed("handle-running") {
			cfg.HandleRunningVMs = runningPolicyValues[handleRunning]
		}
		if noCleanup {
			cfg.AutoCleanup = false
		}

		client := vbox.NewClient(cfg.VBoxManagePath, vbox.ExecRunner{}, logger)
		if err := client.Verify(cmd.Context()); err != nil {
			logger.WithError(err).Error("VBoxManage binary is not usable")
			return err
		}

		recipient, err := cfg.Recipient()
		if err != nil {
			return err
		}

		orch := backup.NewOrchestrator(
			client,
			cfg,
			archive.NewPackager(logger, recipient),
			retention.NewSweeper(logger),
			logger,
			func(task string) backup.ProgressSink {
				return progress.NewExportRelay(task)
			},
		)

		summary := orch.Run(cmd.Context())
		if summary.Failed > 0 {
			return fmt.Errorf("backup run finished with %d failed job(s)", summary.Failed)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list-vms",
	Short: "List all registered VirtualBox VMs and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := mustConfig()
		client := vbox.NewClient(cfg.VBoxManagePath, vbox.ExecRunner{}, logger)

		vms, err := client.ListVMs(cmd.Context())
		if err != nil {
			return err
		}

		fmt.Println("\nAvailable VirtualBox VMs:")
		fmt.Println("------------------------------------------------------------")
		for _, vm := range vms {
			fmt.Printf("  Name: %s\n  UUID: %s\n\n", vm.Name, vm.UUID)
		}
		return nil
	},
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Only run retention cleanup, skip backups",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger := mustConfig()
		_, err := retention.NewSweeper(logger).Sweep(cfg.BackupDirectory, cfg.RetentionDays)
		return err
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate-config",
	Short: "Validate the configuration and the control-plane binary, then exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger := setupLogging(cfg)
		client := vbox.NewClient(cfg.VBoxManagePath, vbox.ExecRunner{}, logger)
		if err := client.Verify(cmd.Context()); err != nil {
			return fmt.Errorf("control-plane binary %q is not usable: %w", cfg.VBoxManagePath, err)
		}

		fmt.Println("Configuration OK")
		return nil
	},
}

// mustConfig loads the configuration for the run modes. A missing config
// file is tolerated with a warning and defaults; anything else is fatal.
// When the default config.yaml is absent, a config.json next to it is picked
// up for compatibility with older installs.
func mustConfig() (config.Config, *log.Logger) {
	path := configPath
	if path == "config.yaml" {
		if _, err := os.Stat(path); os.IsNotExist(err) {
			if _, err := os.Stat("config.json"); err == nil {
				path = "config.json"
			}
		}
	}

	cfg, err := config.Load(path)
	logger := setupLogging(cfg)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			logger.WithField("path", path).Warn("Config file not found, using defaults")
		} else {
			logger.Fatal(err)
		}
	}
	if err := cfg.Validate(); err != nil {
		logger.Fatal(err)
	}
	return cfg, logger
}

func setupLogging(cfg config.Config) *log.Logger {
	logger := log.New()
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})

	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	if debug {
		level = log.DebugLevel
	}
	logger.SetLevel(level)

	out := io.Writer(os.Stdout)
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			logger.WithError(err).Warn("Cannot open log file, logging to stdout only")
		} else {
			out = io.MultiWriter(os.Stdout, f)
		}
	}
	logger.SetOutput(out)
	return logger
}

func main() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "path to configuration file (YAML or JSON)")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&noCleanup, "no-cleanup", false, "skip the retention sweep after the run")
	rootCmd.Flags().Var(
		enumflag.New(&handleRunning, "policy", runningPolicyIds, enumflag.EnumCaseInsensitive),
		"handle-running",
		"override for running-VM handling: pause, suspend, skip, fail, allow")

	rootCmd.AddCommand(listCmd, cleanupCmd, validateCmd)

	if err := rootCmd.Execute(); err != nil {
		log.Error(err)
		os.Exit(1)
	}
}
