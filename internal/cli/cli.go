// Package cli provides the pacer command line interface: a demo runtime
// driven by a simulated transport and frame source, and a small benchmark
// harness. The library packages never depend on this; it exists to exercise
// the runtime end to end from a terminal.
package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/appcelera/pacer/internal/config"
	"github.com/appcelera/pacer/internal/metrics"
	"github.com/appcelera/pacer/internal/runtime"
	"github.com/appcelera/pacer/internal/workerpool"
	"github.com/appcelera/pacer/pkg/types"
)

var configFile string

// BuildCLI assembles the root command.
func BuildCLI() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "pacer",
		Short: "Pacer: an adaptive client-side resource-management runtime",
		Long: `Pacer coordinates background compute, tiered caching, and outbound
request scheduling under a shared performance budget that adapts to
observed frame latency.`,
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "config file path (YAML)")

	rootCmd.AddCommand(buildRunCommand())
	rootCmd.AddCommand(buildBenchCommand())

	return rootCmd
}

func buildRunCommand() *cobra.Command {
	var degrade bool

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the runtime against a simulated transport and frame source",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDemo(degrade)
		},
	}
	cmd.Flags().BoolVar(&degrade, "degrade", false, "simulate progressively slower frames to trigger adaptation")
	return cmd
}

func buildBenchCommand() *cobra.Command {
	var requests int
	var jobs int

	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Drive synthetic load through the scheduler and worker pool",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBench(requests, jobs)
		},
	}
	cmd.Flags().IntVar(&requests, "requests", 200, "number of requests to schedule")
	cmd.Flags().IntVar(&jobs, "jobs", 200, "number of compute jobs to submit")
	return cmd
}

func loadConfig() (*config.Config, error) {
	if configFile == "" {
		return config.Default(), nil
	}
	return config.Load(configFile)
}

func runDemo(degrade bool) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := runtime.New(cfg, newSimTransport())
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	rt.Start()
	defer rt.Close()

	if cfg.Metrics.Enabled && rt.Metrics() != nil {
		go func() {
			fmt.Printf("metrics listening on :%d/metrics\n", cfg.Metrics.Port)
			if err := metrics.StartServer(cfg.Metrics.Port, rt.Metrics()); err != nil {
				fmt.Fprintf(os.Stderr, "metrics server error: %v\n", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go simulateFrames(ctx, rt, degrade)
	go simulateTraffic(ctx, rt)

	fmt.Println("runtime started, press Ctrl+C to stop")
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Println("\nshutting down...")
	return nil
}

// simulateFrames pushes one synthetic frame duration per "frame". With
// degrade set, frames slow down over time until the detector trips.
func simulateFrames(ctx context.Context, rt *runtime.Runtime, degrade bool) {
	frame := 12 * time.Millisecond
	ticker := time.NewTicker(16 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rt.RecordFrame(frame)
			if degrade && frame < 60*time.Millisecond {
				frame += 100 * time.Microsecond
			}
		}
	}
}

// simulateTraffic issues a steady mix of cached fetches and direct requests.
func simulateTraffic(ctx context.Context, rt *runtime.Runtime) {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n++
			path := fmt.Sprintf("/api/items/%d", n%20)
			if _, err := rt.FetchCached(ctx, path); err != nil {
				fmt.Fprintf(os.Stderr, "fetch %s: %v\n", path, err)
			}
		}
	}
}

func runBench(requests, jobs int) error {
	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	rt, err := runtime.New(cfg, newSimTransport())
	if err != nil {
		return fmt.Errorf("build runtime: %w", err)
	}
	rt.Start()
	defer rt.Close()

	var rec workerpool.Recorder
	if c := rt.Metrics(); c != nil {
		rec = c
	}
	pool := workerpool.New(cfg.Pool.Workers, benchTransform, rec)
	rt.Manage(pool)

	ctx := context.Background()
	start := time.Now()

	var wg sync.WaitGroup
	var requestErrs, jobErrs atomic.Int64

	for i := 0; i < requests; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := rt.Scheduler().Schedule(ctx, &types.Request{
				Method:   "GET",
				Path:     fmt.Sprintf("/bench/%d", i%32),
				Priority: types.PriorityNormal,
			})
			if err != nil {
				requestErrs.Add(1)
			}
		}(i)
	}

	for i := 0; i < jobs; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := pool.Submit(ctx, i); err != nil {
				jobErrs.Add(1)
			}
		}(i)
	}

	wg.Wait()
	elapsed := time.Since(start)

	fmt.Printf("completed %d requests (%d failed) and %d jobs (%d failed) in %s\n",
		requests, requestErrs.Load(), jobs, jobErrs.Load(), elapsed)
	fmt.Printf("throughput: %.0f ops/s\n", float64(requests+jobs)/elapsed.Seconds())
	return nil
}

// benchTransform is deliberately CPU-ish: enough work per job that crossing
// into a background goroutine pays off.
func benchTransform(ctx context.Context, n int) (int, error) {
	sum := 0
	for i := 0; i < 50_000; i++ {
		if i%8192 == 0 && ctx.Err() != nil {
			return 0, ctx.Err()
		}
		sum += (n + i) * (n - i)
	}
	return sum, nil
}
