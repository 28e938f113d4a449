// Command xdd drives a single-process I/O workload against a memory
// region or a file/block device, following the teacher's ublk-mem
// command: parse flags, build the backend, print what was built, run
// until done or interrupted, tear down cleanly.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"runtime/pprof"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/xdd-io/xdd"
	"github.com/xdd-io/xdd/backend"
	"github.com/xdd-io/xdd/internal/logging"
	"github.com/xdd-io/xdd/internal/results"
	"github.com/xdd-io/xdd/internal/seeklist"
)

func main() {
	var (
		targetPath   = flag.String("target", "mem", `target to drive: a file/device path, or "mem" for an in-memory region`)
		sizeStr      = flag.String("size", "64M", "total bytes to move (e.g. 64M, 1G)")
		queueDepth   = flag.Int("queuedepth", xdd.DefaultQueueDepth, "workers per target")
		reqSize      = flag.Int64("reqsize", xdd.DefaultReqSize, "blocks per op")
		blockSize    = flag.Int64("blocksize", xdd.DefaultBlockSize, "block size in bytes")
		passes       = flag.Int64("passes", 1, "number of passes over the target")
		passDelay    = flag.Duration("passdelay", xdd.DefaultPassDelay, "delay between passes")
		pattern      = flag.String("pattern", "sequential", `"sequential" or "random"`)
		rwRatio      = flag.Float64("rwratio", xdd.DefaultRWRatio, "fraction of ops that are reads")
		seed         = flag.Int64("seed", 0, "PRNG seed for random-pattern runs")
		verifyWrites = flag.Bool("verify-writes", false, "read back every write and compare")
		directIO     = flag.Bool("direct-io", false, "open file/device targets with O_DIRECT")
		restartPath  = flag.String("restart-file", "", "periodically persist a restart record to this path")
		verbose      = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	size, err := parseSize(*sizeStr)
	if err != nil {
		log.Fatalf("invalid -size %q: %v", *sizeStr, err)
	}

	logConfig := logging.DefaultConfig()
	if *verbose {
		logConfig.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logConfig)
	logging.SetDefault(logger)

	be, name, err := openBackend(*targetPath, size, *directIO)
	if err != nil {
		logger.Errorf("failed to open target: %v", err)
		os.Exit(1)
	}
	defer be.Close()

	tc := xdd.DefaultTargetConfig(name, be)
	tc.QueueDepth = *queueDepth
	tc.ReqSize = *reqSize
	tc.BlockSize = *blockSize
	tc.TotalBytes = size
	tc.RWRatio = *rwRatio
	tc.Seed = *seed
	tc.VerifyWrites = *verifyWrites
	tc.DirectIO = *directIO
	tc.RestartPath = *restartPath
	if *pattern == "random" {
		tc.Pattern = seeklist.PatternRandom
	}

	runCfg := xdd.DefaultRunConfig()
	runCfg.Passes = *passes
	runCfg.PassDelay = *passDelay
	runCfg.Logger = logger

	logger.Infof("starting run: target=%s size=%s passes=%d queuedepth=%d", name, formatSize(size), *passes, *queueDepth)

	run, err := xdd.NewRun(runCfg, []xdd.TargetConfig{tc}, printingCallback{})
	if err != nil {
		logger.Errorf("failed to build run: %v", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("received shutdown signal, stopping")
		cancel()
	}()

	stackDumpCh := make(chan os.Signal, 1)
	signal.Notify(stackDumpCh, syscall.SIGUSR1)
	go func() {
		for range stackDumpCh {
			dumpStacks()
		}
	}()

	start := time.Now()
	if err := run.Execute(ctx); err != nil {
		logger.Errorf("run failed: %v", err)
		os.Exit(1)
	}

	logger.Infof("run completed in %s", time.Since(start))
}

func openBackend(path string, size int64, directIO bool) (be interface {
	ReadAt([]byte, int64) (int, error)
	WriteAt([]byte, int64) (int, error)
	Size() int64
	Close() error
	Sync() error
}, name string, err error) {
	if path == "mem" {
		return backend.NewMemory(size), "mem0", nil
	}
	f, err := backend.Open(path, directIO, false)
	if err != nil {
		return nil, "", err
	}
	return f, path, nil
}

// printingCallback renders each results row to stdout, the place a
// real report printer would live (deliberately out of the aggregator's
// own scope).
type printingCallback struct{}

func (printingCallback) TargetRow(row results.TargetRow) {
	fmt.Printf("[pass %d] %-12s reads=%d writes=%d bytes=%d bw=%.1f MB/s latency=%.1fus\n",
		row.PassNumber, row.TargetName, row.ReadOps, row.WriteOps, row.ReadBytes+row.WriteBytes,
		row.BandwidthBPS/1e6, row.MeanLatencyNs/1e3)
}

func (printingCallback) RunRow(row results.RunRow) {
	fmt.Printf("[pass %d] TOTAL bytes=%d elapsed=%.2fs\n", row.PassNumber, row.TotalBytes, float64(row.ElapsedNs)/1e9)
}

func dumpStacks() {
	buf := make([]byte, 1<<20)
	n := runtime.Stack(buf, true)
	fmt.Fprintf(os.Stderr, "\n=== GOROUTINE STACK DUMP ===\n%s\n", buf[:n])

	filename := fmt.Sprintf("xdd-stacks-%d.txt", time.Now().Unix())
	if f, err := os.Create(filename); err == nil {
		f.Write(buf[:n])
		fmt.Fprintf(f, "\n\n=== GOROUTINE PROFILE ===\n")
		pprof.Lookup("goroutine").WriteTo(f, 2)
		f.Close()
	}
}

func parseSize(s string) (int64, error) {
	s = strings.ToUpper(s)
	multiplier := int64(1)
	numStr := s
	switch {
	case strings.HasSuffix(s, "K"):
		multiplier = 1024
		numStr = strings.TrimSuffix(s, "K")
	case strings.HasSuffix(s, "M"):
		multiplier = 1024 * 1024
		numStr = strings.TrimSuffix(s, "M")
	case strings.HasSuffix(s, "G"):
		multiplier = 1024 * 1024 * 1024
		numStr = strings.TrimSuffix(s, "G")
	}
	num, err := strconv.ParseInt(numStr, 10, 64)
	if err != nil {
		return 0, err
	}
	return num * multiplier, nil
}

func formatSize(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	units := []string{"K", "M", "G", "T"}
	return fmt.Sprintf("%.1f %sB", float64(bytes)/float64(div), units[exp])
}
