// easyfl is the command-line front end: `easyfl run jobs.json` launches a
// batch of training runs, `easyfl tune grid.json` runs a hyper-parameter
// grid search. Workers are external programs; this binary only schedules.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Willam-Ni/easyFL/common/stats"
	"github.com/Willam-Ni/easyFL/experiment"
	"github.com/Willam-Ni/easyFL/gpu"
	"github.com/Willam-Ni/easyFL/gpu/nvml"
	osexecer "github.com/Willam-Ni/easyFL/runner/execer/os"
	"github.com/Willam-Ni/easyFL/scheduler"
)

var (
	flagDevices    []int
	flagConfig     string
	flagScheduler  string
	flagLogLevel   string
	flagWorkerArgv []string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "easyfl",
		Short: "GPU-aware launcher for federated-learning experiment batches",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, err := log.ParseLevel(flagLogLevel)
			if err != nil {
				return err
			}
			log.SetLevel(level)
			return nil
		},
	}
	rootCmd.PersistentFlags().IntSliceVar(&flagDevices, "devices", nil, "GPU device ids to schedule on (default: all visible devices)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to scheduler config JSON")
	rootCmd.PersistentFlags().StringVar(&flagScheduler, "scheduler", "auto", "device availability policy: auto (memory-aware) or basic (always available)")
	rootCmd.PersistentFlags().StringVar(&flagLogLevel, "log-level", "info", "logrus level")
	rootCmd.PersistentFlags().StringSliceVar(&flagWorkerArgv, "worker", nil, "worker command prefix, e.g. --worker simworker")

	runCmd := &cobra.Command{
		Use:   "run <jobs.json>",
		Short: "Run every job configuration in the file, in parallel across devices",
		Args:  cobra.ExactArgs(1),
		RunE:  runJobs,
	}
	tuneCmd := &cobra.Command{
		Use:   "tune <grid.json>",
		Short: "Grid-search the option lists in the file and report the best configuration",
		Args:  cobra.ExactArgs(1),
		RunE:  runTune,
	}
	rootCmd.AddCommand(runCmd, tuneCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func runJobs(cmd *cobra.Command, args []string) error {
	var configs []map[string]interface{}
	if err := readJSONFile(args[0], &configs); err != nil {
		return err
	}
	d, cleanup, err := buildDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := experiment.RunAll(signalContext(), d, configs)
	if err != nil {
		return err
	}
	return printJSON(records)
}

func runTune(cmd *cobra.Command, args []string) error {
	var req experiment.TuneRequest
	if err := readJSONFile(args[0], &req); err != nil {
		return err
	}
	d, cleanup, err := buildDispatcher()
	if err != nil {
		return err
	}
	defer cleanup()

	result, err := experiment.Tune(signalContext(), d, req)
	if err != nil {
		return err
	}
	return printJSON(result)
}

func buildDispatcher() (*scheduler.Dispatcher, func(), error) {
	cfg := scheduler.Config{}
	if flagConfig != "" {
		if err := readJSONFile(flagConfig, &cfg); err != nil {
			return nil, nil, err
		}
	}
	if len(flagWorkerArgv) > 0 {
		cfg.WorkerArgv = flagWorkerArgv
	}
	cfg.ApplyDefaults()

	stat := stats.DefaultStatsReceiver()
	ledger := scheduler.NewLedger(cfg.BaselineUsage)
	cleanup := func() {
		log.Debug("Final stats: ", string(stat.Render()))
	}

	var probe gpu.Probe
	var checker scheduler.DeviceChecker
	devices := flagDevices

	switch flagScheduler {
	case "basic":
		if len(devices) == 0 {
			return nil, nil, fmt.Errorf("the basic scheduler requires an explicit --devices list")
		}
		checker = scheduler.NewBasicChecker(devices)
	case "auto":
		p, err := nvml.NewProbe()
		if err != nil {
			return nil, nil, err
		}
		probe = p
		statCleanup := cleanup
		cleanup = func() {
			statCleanup()
			if err := p.Close(); err != nil {
				log.Error(err)
			}
		}
		if len(devices) == 0 {
			devices, err = p.Devices()
			if err != nil {
				cleanup()
				return nil, nil, err
			}
		}
		checker = scheduler.NewAutoChecker(ledger, cfg.SafetyMargin, cfg.HysteresisWindow, cfg.Statistic)
	default:
		return nil, nil, fmt.Errorf("unknown scheduler kind: %q", flagScheduler)
	}

	d := scheduler.NewDispatcher(cfg, osexecer.NewExecer(), checker, probe, devices, ledger, stat)
	return d, cleanup, nil
}

// signalContext cancels on SIGINT/SIGTERM so every worker subprocess is
// terminated before we exit.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithFields(log.Fields{"signal": sig}).Warn("Canceling run")
		cancel()
	}()
	return ctx
}

func readJSONFile(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func printJSON(v interface{}) error {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
