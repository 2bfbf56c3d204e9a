// Command cpubalancer runs a user-space CPU load balancer: a dispatch
// scheduler that spreads submitted tasks across CPUs under a
// load-minimization policy, pinning each worker's OS thread to its chosen
// CPU.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/ja7ad/cpubalancer/pkg/balancer"
	"github.com/ja7ad/cpubalancer/pkg/clockz"
	"github.com/ja7ad/cpubalancer/pkg/config"
	"github.com/ja7ad/cpubalancer/pkg/cpumonitor"
	"github.com/ja7ad/cpubalancer/pkg/logger"
	"github.com/ja7ad/cpubalancer/pkg/simulate"
)

type opts struct {
	configPath string

	maxTasks     int
	intervalMS   int
	highLoad     float64
	lowLoad      float64
	historySize  int
	predict      bool
	detailedLogs bool
	logPath      string
	numCPUs      int
	policy       string

	simDuration time.Duration
	simRate     float64

	httpAddr string
}

func main() {
	var o opts

	root := &cobra.Command{
		Use:   "cpubalancer",
		Short: "User-space CPU load balancer and scheduler",
		Long: `cpubalancer dispatches submitted tasks across the host's CPUs,
picking each task's core from live /proc/stat utilization and a short
load-history prediction, then pins the worker thread that runs it.

Examples:
  cpubalancer run --sim-duration 30s --sim-rate 2.0
  cpubalancer run --config ./cpubalancer.yaml
  cpubalancer stats --config ./cpubalancer.yaml
  cpubalancer config --config ./cpubalancer.yaml`,
	}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "start the balancer and a synthetic traffic driver",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBalancer(cmd.Context(), o)
		},
	}
	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "sample live per-CPU utilization and print detailed stats",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printStats(o)
		},
	}
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "print the effective config and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			return printConfig(o)
		},
	}

	for _, c := range []*cobra.Command{runCmd, statsCmd, configCmd} {
		c.Flags().StringVar(&o.configPath, "config", "", "path to a YAML config file (overrides defaults; flags below override the file)")
		c.Flags().IntVar(&o.maxTasks, "max-tasks", 0, "bounded queue capacity (0 = use config/default)")
		c.Flags().IntVar(&o.intervalMS, "interval-ms", 0, "monitor sampling interval in ms (0 = use config/default)")
		c.Flags().Float64Var(&o.highLoad, "high-load", 0, "high load threshold percentage (0 = use config/default)")
		c.Flags().Float64Var(&o.lowLoad, "low-load", 0, "low load threshold percentage (0 = use config/default)")
		c.Flags().IntVar(&o.historySize, "history-size", 0, "load history ring size (0 = use config/default)")
		c.Flags().BoolVar(&o.predict, "predict", true, "enable load-history prediction")
		c.Flags().BoolVar(&o.detailedLogs, "detailed-logs", false, "enable debug-level logging")
		c.Flags().StringVar(&o.logPath, "log-file", "", "write logs to this file instead of stderr")
		c.Flags().IntVar(&o.numCPUs, "num-cpus", 0, "CPUs to manage (0 = auto-detect)")
		c.Flags().StringVar(&o.policy, "policy", "", "dispatch policy: affinity or round_robin (empty = use config/default)")
	}

	runCmd.Flags().DurationVar(&o.simDuration, "sim-duration", 30*time.Second, "how long the synthetic traffic driver runs")
	runCmd.Flags().Float64Var(&o.simRate, "sim-rate", 2.0, "synthetic tasks/sec (expected value)")
	runCmd.Flags().StringVar(&o.httpAddr, "http-addr", "", "optional debug HTTP address exposing /stats and /healthz")

	root.AddCommand(runCmd, statsCmd, configCmd)

	if err := root.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(1)
	}
}

func loadConfig(o opts) (*config.Config, error) {
	var cfg *config.Config
	if o.configPath != "" {
		loaded, err := config.LoadFile(o.configPath)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	} else {
		cfg = config.DefaultConfig()
	}

	if o.maxTasks > 0 {
		cfg.MaxTasks = o.maxTasks
	}
	if o.intervalMS > 0 {
		cfg.MonitoringIntervalMS = o.intervalMS
	}
	if o.highLoad > 0 {
		cfg.HighLoadThreshold = o.highLoad
	}
	if o.lowLoad > 0 {
		cfg.LowLoadThreshold = o.lowLoad
	}
	if o.historySize > 0 {
		cfg.LoadHistorySize = o.historySize
	}
	cfg.EnableLoadPrediction = o.predict
	cfg.EnableDetailedLogging = o.detailedLogs
	if o.logPath != "" {
		cfg.LogFilePath = o.logPath
	}
	if o.numCPUs > 0 {
		cfg.NumCPUs = o.numCPUs
	}
	if o.policy != "" {
		cfg.DispatchPolicy = o.policy
	}
	return cfg, nil
}

func printConfig(o opts) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	tw := newTable()
	fmt.Fprintln(tw, "FIELD\tVALUE")
	fmt.Fprintf(tw, "max_tasks\t%d\n", cfg.MaxTasks)
	fmt.Fprintf(tw, "monitoring_interval_ms\t%d\n", cfg.MonitoringIntervalMS)
	fmt.Fprintf(tw, "high_load_threshold\t%.1f\n", cfg.HighLoadThreshold)
	fmt.Fprintf(tw, "low_load_threshold\t%.1f\n", cfg.LowLoadThreshold)
	fmt.Fprintf(tw, "load_history_size\t%d\n", cfg.LoadHistorySize)
	fmt.Fprintf(tw, "enable_load_prediction\t%v\n", cfg.EnableLoadPrediction)
	fmt.Fprintf(tw, "enable_detailed_logging\t%v\n", cfg.EnableDetailedLogging)
	fmt.Fprintf(tw, "log_file_path\t%s\n", cfg.LogFilePath)
	numCPUs := cfg.NumCPUs
	if numCPUs <= 0 {
		numCPUs = runtime.NumCPU()
	}
	fmt.Fprintf(tw, "num_cpus\t%d\n", numCPUs)
	fmt.Fprintf(tw, "min_task_runtime_ms\t%d\n", cfg.MinTaskRuntimeMS)
	fmt.Fprintf(tw, "rebalance_threshold\t%d\n", cfg.RebalanceThreshold)
	fmt.Fprintf(tw, "dispatch_policy\t%s\n", cfg.DispatchPolicy)
	return tw.Flush()
}

// printStats samples live /proc/stat utilization and tabulates the full
// per-CPU detail, restoring original_source/src/cpu_stats.c's
// print_cpu_stats (minus its dead Temperature field; see DESIGN.md).
func printStats(o opts) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}
	numCPUs := cfg.NumCPUs
	if numCPUs <= 0 {
		numCPUs = runtime.NumCPU()
	}

	mon := cpumonitor.New(cpumonitor.Config{
		NumCPUs:              numCPUs,
		LoadHistorySize:      cfg.LoadHistorySize,
		EnableLoadPrediction: cfg.EnableLoadPrediction,
	}, cpumonitor.NewProcStatSource(), clockz.Real, nil, nil)

	// The first sample only seeds the raw counters (current_usage is 0 by
	// definition, spec.md §4.C); wait a beat and sample again for a real
	// delta.
	if err := mon.Sample(); err != nil {
		return fmt.Errorf("sample cpu stats: %w", err)
	}
	time.Sleep(200 * time.Millisecond)
	if err := mon.Sample(); err != nil {
		return fmt.Errorf("sample cpu stats: %w", err)
	}

	tw := newTable()
	fmt.Fprintln(tw, "CPU Usage Statistics:")
	for _, v := range mon.Snapshot() {
		fmt.Fprintln(tw, "------------------------------------------------------------")
		fmt.Fprintf(tw, "CPU ID:\t%d\n", v.ID)
		fmt.Fprintf(tw, "Current Usage:\t%.2f%%\n", v.CurrentUsage)
		fmt.Fprintf(tw, "User Time:\t%d\n", v.Raw.User)
		fmt.Fprintf(tw, "Nice Time:\t%d\n", v.Raw.Nice)
		fmt.Fprintf(tw, "System Time:\t%d\n", v.Raw.System)
		fmt.Fprintf(tw, "Idle Time:\t%d\n", v.Raw.Idle)
		fmt.Fprintf(tw, "IOWait Time:\t%d\n", v.Raw.IOWait)
		fmt.Fprintf(tw, "IRQ Time:\t%d\n", v.Raw.IRQ)
		fmt.Fprintf(tw, "SoftIRQ Time:\t%d\n", v.Raw.SoftIRQ)
		fmt.Fprintf(tw, "Steal Time:\t%d\n", v.Raw.Steal)
		fmt.Fprintf(tw, "Predicted Load:\t%.2f%%\n", v.PredictedLoad)
		fmt.Fprintf(tw, "Active Tasks:\t%d\n", v.ActiveTasks)
		if len(v.RecentHistory) > 0 {
			fmt.Fprintf(tw, "Usage History (last 5 samples):\t%s\n", formatHistory(v.RecentHistory))
		}
	}
	fmt.Fprintln(tw, "------------------------------------------------------------")
	return tw.Flush()
}

func formatHistory(samples []float64) string {
	var b strings.Builder
	for _, v := range samples {
		fmt.Fprintf(&b, "%.2f%% ", v)
	}
	return strings.TrimSpace(b.String())
}

func runBalancer(ctx context.Context, o opts) error {
	cfg, err := loadConfig(o)
	if err != nil {
		return err
	}

	log, closeLog, err := newLogger(cfg)
	if err != nil {
		return fmt.Errorf("logger: %w", err)
	}
	if closeLog != nil {
		defer closeLog()
	}

	lb := balancer.New(cfg, balancer.WithClock(clockz.Real), balancer.WithLogger(log))
	lb.Start()

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	driver := simulate.New(simulate.Config{
		Duration:     o.simDuration,
		TaskRate:     o.simRate,
		MinWorkload:  100 * time.Millisecond,
		MaxWorkload:  2 * time.Second,
		PollInterval: 100 * time.Millisecond,
	}, lb, clockz.Real, log)

	simDone := make(chan error, 1)
	go func() { simDone <- driver.Run(ctx) }()

	var httpSrv *debugServer
	if o.httpAddr != "" {
		httpSrv = newDebugServer(o.httpAddr, lb)
		httpSrv.Start()
	}

	select {
	case <-ctx.Done():
		log.Log(logger.Info, "shutdown signal received")
	case err := <-simDone:
		if err != nil {
			log.Log(logger.Warning, "simulation driver exited early", "err", err)
		} else {
			log.Log(logger.Info, "simulation duration elapsed")
		}
	}

	if httpSrv != nil {
		httpSrv.Stop()
	}

	lb.Stop()
	printSummary(lb)
	return nil
}

func newLogger(cfg *config.Config) (logger.Logger, func(), error) {
	if cfg.LogFilePath == "" {
		return logger.NewSlog(os.Stderr, cfg.EnableDetailedLogging), nil, nil
	}
	l, f, err := logger.NewSlogFile(cfg.LogFilePath, cfg.EnableDetailedLogging)
	if err != nil {
		return nil, nil, err
	}
	return l, func() { _ = f.Close() }, nil
}

func printSummary(lb *balancer.LoadBalancer) {
	tw := newTable()
	fmt.Fprintln(tw, "\nSimulation Results:")
	fmt.Fprintln(tw, "CPU\tCURRENT USAGE\tPREDICTED LOAD\tACTIVE TASKS")
	for _, s := range lb.Stats() {
		fmt.Fprintf(tw, "%d\t%.2f%%\t%.2f%%\t%d\n", s.ID(), s.CurrentUsage(), s.PredictedLoad(), s.ActiveTasks())
	}
	tw.Flush()
}

func newTable() *tabwriter.Writer {
	return tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
}
