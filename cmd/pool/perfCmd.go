package pool

import (
	"context"
	"encoding/csv"
	"fmt"
	"github.com/ValentinKolb/dConn/cmd/util"
	"github.com/ValentinKolb/dConn/rpc/common"
	"github.com/ValentinKolb/dConn/rpc/connection"
	"github.com/VictoriaMetrics/metrics"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
	"log"
	"os"
	"strconv"
	"strings"
	"testing"
	"time"
)

var (
	perfTestCmd = &cobra.Command{
		Use:     "perf",
		Short:   "Performance testing tool for connection pools",
		Long:    "",
		RunE:    runPerf,
		PreRunE: processPerfConfig,
	}
	perfLargeValueSizeKB = 100
	perfNumThreads       = 10
	perfSkip             = make([]string, 0)
)

// perfTests lists the benchmarks in the order they run
var perfTests = []struct {
	name string
	op   func(ctx context.Context, token connection.Token, payload []byte) error
}{
	{"acquire", perfAcquire},
	{"reentrant", perfReentrant},
	{"echo", perfEcho},
	{"echo-large", perfEcho},
	{"async", perfAsync},
}

func init() {
	// add flags
	key := "skip"
	perfTestCmd.Flags().String(key, "", util.WrapString("Benchmarks to skip (comma separated - e.g. acquire,async)"))
	key = "threads"
	perfTestCmd.Flags().Int(key, 10, util.WrapString("Number of threads to use for the benchmark"))
	key = "large-value-size"
	perfTestCmd.Flags().Int(key, 100, util.WrapString("How large the payload for the echo-large test should be (in KB)"))
	key = "csv"
	perfTestCmd.Flags().String(key, "", util.WrapString("Optional path to save benchmark results as CSV"))
	key = "metrics"
	perfTestCmd.Flags().Bool(key, false, util.WrapString("Print all process metrics in the Prometheus text format after the tests"))
}

func processPerfConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// Read the configuration from the command line flags and environment variables
	perfLargeValueSizeKB = viper.GetInt("large-value-size")
	perfNumThreads = viper.GetInt("threads")
	perfSkip = strings.Split(viper.GetString("skip"), ",")

	if perfNumThreads <= 0 {
		return fmt.Errorf("threads must be > 0, got %d", perfNumThreads)
	}
	return nil
}

func runPerf(_ *cobra.Command, _ []string) error {

	fmt.Println("Performance testing tool for connection pools")

	config, err := util.GetPoolConfig()
	if err != nil {
		return err
	}

	// Print configuration
	fmt.Println()
	fmt.Println("Configuration:")
	fmt.Println(config.String())
	fmt.Printf("Url: %s\n", util.GetURL())
	fmt.Printf("Threads: %d\n", perfNumThreads)
	fmt.Println()

	if err := warmup(); err != nil {
		return fmt.Errorf("warmup failed: %w", err)
	}

	fmt.Println("staring tests...")

	results := make(map[string]testing.BenchmarkResult)
	largeValue := make([]byte, perfLargeValueSizeKB*1024)

	for _, test := range perfTests {
		payload := []byte("test")
		if test.name == "echo-large" {
			payload = largeValue
		}

		result := testing.Benchmark(func(b *testing.B) {
			if shouldSkip(test.name) {
				return
			}

			b.SetParallelism(perfNumThreads)

			b.ResetTimer()

			b.RunParallel(func(pb *testing.PB) {
				token := connection.NewToken()
				ctx := context.Background()
				for pb.Next() {
					if err := test.op(ctx, token, payload); err != nil {
						log.Printf("(%s) - error: %v\n", test.name, err)
					}
				}
			})
		})

		results[test.name] = result
		printResult(test.name, result)
	}

	fmt.Println()
	printStats()

	if viper.GetBool("metrics") {
		fmt.Println()
		metrics.WritePrometheus(os.Stdout, false)
	}

	// Write results to csv is specified
	if csvPath := viper.GetString("csv"); csvPath != "" {
		fmt.Printf("\nExporting results to CSV: %s\n", csvPath)
		if err := writeResultsToCSV(csvPath, results, config); err != nil {
			return fmt.Errorf("failed to export results to CSV: %v", err)
		}
		fmt.Println("Export complete")
	}

	return nil
}

// --------------------------------------------------------------------------
// Benchmarks
// --------------------------------------------------------------------------

func perfAcquire(ctx context.Context, token connection.Token, _ []byte) error {
	conn, err := rpcPool.Acquire(ctx, token)
	if err != nil {
		return err
	}
	return rpcPool.Release(token, conn)
}

// perfReentrant acquires twice with the same token, the second acquire returns the bound connection
func perfReentrant(ctx context.Context, token connection.Token, _ []byte) error {
	first, err := rpcPool.Acquire(ctx, token)
	if err != nil {
		return err
	}
	second, err := rpcPool.Acquire(ctx, token)
	if err != nil {
		_ = rpcPool.Release(token, first)
		return err
	}
	if first != second {
		log.Printf("(reentrant) - token %s got %s and %s\n", token, first, second)
	}
	return rpcPool.Release(token, first)
}

func perfEcho(ctx context.Context, token connection.Token, payload []byte) error {
	return withConnection(ctx, token, func(conn *connection.Connection) error {
		_, err := conn.Execute(ctx, common.NewRequest("echo", payload))
		return err
	})
}

func perfAsync(ctx context.Context, token connection.Token, payload []byte) error {
	return withConnection(ctx, token, func(conn *connection.Connection) error {
		done := make(chan error, 1)
		if _, err := conn.ExecuteAsync(common.NewRequest("echo", payload), func(_ *common.Message, err error) {
			done <- err
		}); err != nil {
			return err
		}
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// warmup sends one echo per thread concurrently and fails on the first error
func warmup() error {
	g, ctx := errgroup.WithContext(context.Background())
	for i := 0; i < perfNumThreads; i++ {
		g.Go(func() error {
			return perfEcho(ctx, connection.NewToken(), []byte("warmup"))
		})
	}
	return g.Wait()
}

func shouldSkip(test string) bool {
	for _, skip := range perfSkip {
		if test == strings.TrimSpace(skip) {
			return true
		}
	}
	return false
}

// printResult prints the result of a benchmark test in a formatted way
func printResult(test string, result testing.BenchmarkResult) {
	if result.NsPerOp() == 0 {
		fmt.Printf("%-20sskipped\n", test)
		return
	}

	nsPerOp := float64(max(result.NsPerOp(), 1))
	opsPerSec := 1.0 / (nsPerOp / 1e9)

	fmt.Printf("%-20s%.0fns/op (%s/op)\t%.0f ops/sec\n", test, nsPerOp, time.Duration(nsPerOp), opsPerSec)
}

// writeResultsToCSV writes benchmark results to a CSV file
func writeResultsToCSV(csvPath string, results map[string]testing.BenchmarkResult, config *common.PoolConfig) error {
	file, err := os.Create(csvPath)
	if err != nil {
		return fmt.Errorf("failed to create CSV file: %v", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	header := []string{
		"Test", "NsPerOp", "DurationPerOp", "OpsPerSec", "Skipped",
		"Url", "PoolSize", "DedicatedChannel", "ResendMode", "TimeoutSec",
		"Serializer", "Threads", "LargeValueSizeKB",
	}
	if err := writer.Write(header); err != nil {
		return fmt.Errorf("failed to write CSV header: %v", err)
	}

	for _, test := range perfTests {
		result, ok := results[test.name]
		if !ok {
			continue
		}

		var nsPerOp float64
		var opsPerSec float64
		skipped := "true"
		if result.NsPerOp() != 0 {
			skipped = "false"
			nsPerOp = float64(max(result.NsPerOp(), 1))
			opsPerSec = 1.0 / (nsPerOp / 1e9)
		}

		row := []string{
			test.name,
			fmt.Sprintf("%.0f", nsPerOp),
			time.Duration(nsPerOp).String(),
			fmt.Sprintf("%.0f", opsPerSec),
			skipped,
			util.GetURL(),
			strconv.Itoa(config.PoolSize),
			strconv.FormatBool(config.UseDedicatedChannel),
			config.Channel.ResendMode.String(),
			strconv.Itoa(config.Channel.TimeoutSecond),
			viper.GetString("serializer"),
			strconv.Itoa(perfNumThreads),
			strconv.Itoa(perfLargeValueSizeKB),
		}

		if err := writer.Write(row); err != nil {
			return fmt.Errorf("failed to write row for test %s: %v", test.name, err)
		}
	}

	return nil
}
