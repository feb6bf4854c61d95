// Package main is the entrypoint for the rtbolt CLI.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	// Import steps and transfer backends to register them
	_ "github.com/eugenetaranov/rtbolt/internal/step/build"
	_ "github.com/eugenetaranov/rtbolt/internal/step/execute"
	_ "github.com/eugenetaranov/rtbolt/internal/step/upload"
	_ "github.com/eugenetaranov/rtbolt/internal/transfer/ftp"
	_ "github.com/eugenetaranov/rtbolt/internal/transfer/sftp"

	"github.com/eugenetaranov/rtbolt/internal/config"
	"github.com/eugenetaranov/rtbolt/internal/executor"
	"github.com/eugenetaranov/rtbolt/internal/log"
	"github.com/eugenetaranov/rtbolt/internal/report"
	"github.com/eugenetaranov/rtbolt/internal/step"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Global flags
var (
	configPath string
	debug      bool
	noColor    bool
)

// errRunFailed signals a completed run with a failed step; the run has
// already printed why.
var errRunFailed = errors.New("run failed")

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "rtbolt",
	Short: "rtbolt - build, deploy and run test scripts on real-time targets",
	Long: `rtbolt builds test programs locally, uploads them to an embedded or
real-time target over FTP or SFTP, runs a script there through an interactive
telnet session and collects the metrics file it produces.

Targets are described in a YAML (or JSON) configuration file.`,
	Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Global flags
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to the configuration file")
	rootCmd.PersistentFlags().BoolVarP(&debug, "debug", "d", false, "Enable debug logging and mirror the telnet session")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "Disable colored output")

	// Add subcommands
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(targetsCmd)
	rootCmd.AddCommand(stepsCmd)
	rootCmd.AddCommand(historyCmd)
}

// runCmd runs the pipeline against one target
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the pipeline against a target",
	Long: `Build, upload and execute against the selected target.

Examples:
  rtbolt run
  rtbolt run --target rt1 --steps upload,execute
  rtbolt run -c lab.yaml -t rt2 --debug`,
	Args: cobra.NoArgs,
	RunE: runPipeline,
}

func init() {
	runCmd.Flags().StringP("target", "t", "", "Target to run against (defaults to default_target)")
	runCmd.Flags().StringP("steps", "s", "all", "Comma-separated steps to run (build,upload,execute)")
	runCmd.Flags().String("report-dir", "", "Directory for reports and retrieved metrics")
}

func runPipeline(cmd *cobra.Command, args []string) error {
	env, err := config.LoadEnv()
	if err != nil {
		return fail(err)
	}

	cfg, err := config.LoadFile(configPath)
	if err != nil {
		return fail(err)
	}

	targetName, _ := cmd.Flags().GetString("target")
	if targetName == "" {
		targetName = env.Target
	}
	target, err := cfg.Select(targetName)
	if err != nil {
		return fail(err)
	}
	env.Apply(cfg, target)

	if dir, _ := cmd.Flags().GetString("report-dir"); dir != "" {
		cfg.ReportDir = dir
	}

	selection, _ := cmd.Flags().GetString("steps")
	steps, err := step.Resolve(selection)
	if err != nil {
		return fail(err)
	}

	level := env.LogLevel
	if debug || cfg.Debug {
		level = "debug"
	}
	closer, err := log.Configure(log.Config{
		Level:   level,
		File:    cfg.LogFile,
		NoColor: noColor,
	})
	if err != nil {
		return fail(err)
	}
	defer closer.Close()

	if cfg.ReportDir != "" {
		if err := os.MkdirAll(cfg.ReportDir, 0o755); err != nil {
			return fail(fmt.Errorf("failed to create report directory: %w", err))
		}
	}

	exec := executor.New()
	exec.Debug = debug || cfg.Debug
	exec.Output.SetColor(!noColor)
	exec.Output.SetDebug(exec.Debug)
	exec.ArtifactDir = cfg.ReportDir
	exec.Reporter = report.Multi{
		&report.JSONFile{Dir: cfg.ReportDir},
		&report.Textfile{Dir: cfg.ReportDir},
		&report.Logger{Logger: log.WithComponent("report")},
	}

	// Setup context with signal handling
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := exec.Run(ctx, target, steps)
	if err != nil {
		return fail(err)
	}
	if !result.Success {
		return errRunFailed
	}
	return nil
}

// validateCmd validates the configuration without running anything
var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Long: `Parse and validate the configuration without connecting to any target.

This checks for:
  - Valid YAML or JSON syntax
  - A build command for every build
  - Transfer, telnet and execution settings
  - Prompt patterns that compile

Examples:
  rtbolt validate
  rtbolt validate -c lab.yaml`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			fmt.Printf("FAIL: %s - %v\n", configPath, err)
			return errRunFailed
		}
		fmt.Printf("OK: %s (%d target(s))\n", configPath, len(cfg.Targets))
		return nil
	},
}

// targetsCmd lists the configured targets
var targetsCmd = &cobra.Command{
	Use:   "targets",
	Short: "List configured targets",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFile(configPath)
		if err != nil {
			return fail(err)
		}

		fmt.Println("Available targets:")
		fmt.Println()
		for _, name := range cfg.TargetNames() {
			t := cfg.Targets[name]
			marker := " "
			if name == cfg.DefaultTarget {
				marker = "*"
			}
			fmt.Printf(" %s %-16s telnet=%s:%d", marker, name, t.Telnet.Host, t.Telnet.Port)
			if t.Description != "" {
				fmt.Printf("  %s", t.Description)
			}
			fmt.Println()
		}
		fmt.Println()
		fmt.Printf("Total: %d targets\n", len(cfg.Targets))
		return nil
	},
}

// stepsCmd lists available steps
var stepsCmd = &cobra.Command{
	Use:   "steps",
	Short: "List available steps",
	Long:  `Display the pipeline steps in the order they run.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("Available steps:")
		fmt.Println()
		for _, name := range step.List() {
			fmt.Printf("  - %s\n", name)
		}
	},
}

// historyCmd compares earlier runs from their JSON reports
var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Compare earlier runs",
	Long: `List the runs recorded in the report directory, oldest first, with their
execution time and the summary counters the test script printed.

Examples:
  rtbolt history
  rtbolt history --target rt1 --report-dir reports`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		targetName, _ := cmd.Flags().GetString("target")
		dir, _ := cmd.Flags().GetString("report-dir")
		if dir == "" {
			if cfg, err := config.LoadFile(configPath); err == nil {
				dir = cfg.ReportDir
			}
		}

		runs, err := report.LoadHistory(dir, targetName)
		if err != nil {
			return fail(err)
		}
		if len(runs) == 0 {
			fmt.Println("No reports found.")
			return nil
		}

		fmt.Printf("%-19s  %-12s  %-6s  %10s  %s\n", "STARTED", "TARGET", "STATUS", "EXEC (s)", "COUNTERS")
		for _, r := range runs {
			status := "ok"
			if !r.Success {
				status = "failed"
			}
			var secs float64
			var counters string
			if r.Execution != nil {
				secs = r.Execution.Seconds
				counters = formatCounters(r.Execution.Counters)
			}
			fmt.Printf("%-19s  %-12s  %-6s  %10.2f  %s\n",
				r.Started.Local().Format("2006-01-02 15:04:05"), r.Target, status, secs, counters)
		}
		fmt.Println()
		fmt.Printf("Total: %d runs\n", len(runs))
		return nil
	},
}

func init() {
	historyCmd.Flags().StringP("target", "t", "", "Only show runs of this target")
	historyCmd.Flags().String("report-dir", "", "Directory holding the JSON reports")
}

func formatCounters(c map[string]int64) string {
	names := make([]string, 0, len(c))
	for name := range c {
		names = append(names, name)
	}
	sort.Strings(names)

	parts := make([]string, len(names))
	for i, name := range names {
		parts[i] = fmt.Sprintf("%s=%d", name, c[name])
	}
	return strings.Join(parts, " ")
}

func fail(err error) error {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	return err
}
