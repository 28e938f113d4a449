// Package xdd provides the Run orchestrator (C12): the public entry
// point that builds every target's worker pool, brings the whole run
// up through a startup rendezvous, drives the configured number of
// passes, and tears everything down in order.
//
// Grounded on the teacher's CreateAndServe/StopAndDelete device
// lifecycle (backend.go's original shape): a DeviceParams-style config
// struct with defaults, a constructor that wires the pieces together,
// and a single entry point that blocks for the device's/run's whole
// lifetime. The per-pass loop itself has no teacher analog (a ublk
// device just serves until stopped); it follows §4.11 directly,
// using internal/barrier for the init rendezvous and per-pass release,
// and a single buffered channel that every target reports into in place
// of a true N-way pass-complete barrier, since each target's own internal barrier
// (internal/target.Target) is already a single-occupant checkpoint by
// design — see DESIGN.md for why that divergence is deliberate.
package xdd

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"github.com/xdd-io/xdd/internal/barrier"
	"github.com/xdd-io/xdd/internal/clock"
	"github.com/xdd-io/xdd/internal/e2e"
	"github.com/xdd-io/xdd/internal/interfaces"
	"github.com/xdd-io/xdd/internal/iobuf"
	"github.com/xdd-io/xdd/internal/ioengine"
	"github.com/xdd-io/xdd/internal/logging"
	"github.com/xdd-io/xdd/internal/restart"
	"github.com/xdd-io/xdd/internal/results"
	"github.com/xdd-io/xdd/internal/seeklist"
	"github.com/xdd-io/xdd/internal/target"
	"github.com/xdd-io/xdd/internal/tot"
	"github.com/xdd-io/xdd/internal/tsring"
	"github.com/xdd-io/xdd/internal/worker"
)

// TargetConfig configures one target's workers, geometry, and optional
// E2E/restart behavior, following the teacher's DeviceParams/
// DefaultParams split between a config struct and its factory.
type TargetConfig struct {
	Name    string
	Backend interfaces.Backend

	QueueDepth int
	ReqSize    int64 // blocks per op
	BlockSize  int64

	// Exactly one of TargetOps or TotalBytes should be set; if TargetOps
	// is zero, it is derived from TotalBytes/(ReqSize*BlockSize), rounded
	// up so a remainder becomes one short final op.
	TargetOps  int64
	TotalBytes int64

	StartOffset int64
	PassOffset  int64
	Pattern     seeklist.Pattern
	Seed        int64
	RangeBytes  int64
	Interleave  int64
	RWRatio     float64

	Ordering target.Ordering
	Role     target.Role

	DirectIO     bool
	PageSize     int
	VerifyWrites bool
	MaxRetries   int
	IOEngine     string // "sync" (default) or "uring"
	TOTFactor    int

	Observer interfaces.Observer
	Logger   interfaces.Logger

	// E2E wiring: non-empty PeerHost makes this target's workers dial
	// (Role == RoleSource) or listen (Role == RoleDestination) instead
	// of talking only to Backend.
	PeerHost string
	BasePort int

	// RestartPath enables the restart monitor for this target. Only
	// meaningful for E2E roles.
	RestartPath       string
	RestartFrequency  time.Duration
	RestartResume     bool
	SourceHost        string
	SourcePath        string
	DestinationHost   string
	DestinationPath   string
}

// DefaultTargetConfig returns a TargetConfig with the same sane
// defaults constants.go re-exports for any other caller assembling a
// RunConfig by hand.
func DefaultTargetConfig(name string, backend interfaces.Backend) TargetConfig {
	return TargetConfig{
		Name:             name,
		Backend:          backend,
		QueueDepth:       DefaultQueueDepth,
		ReqSize:          DefaultReqSize,
		BlockSize:        DefaultBlockSize,
		RWRatio:          DefaultRWRatio,
		Ordering:         target.OrderingNone,
		Role:             target.RoleNotE2E,
		MaxRetries:       DefaultWorkerMaxRetries,
		IOEngine:         "sync",
		TOTFactor:        TargetOffsetTableFactor,
		RestartFrequency: DefaultRestartFrequency,
		PageSize:         DefaultArenaAlignment,
	}
}

func (tc TargetConfig) ioSize() int64 {
	return tc.ReqSize * tc.BlockSize
}

func (tc TargetConfig) targetOps() int64 {
	if tc.TargetOps > 0 {
		return tc.TargetOps
	}
	iosize := tc.ioSize()
	if iosize <= 0 || tc.TotalBytes <= 0 {
		return 0
	}
	return (tc.TotalBytes + iosize - 1) / iosize
}

// RunConfig configures the whole run: pass count, pacing, and
// optional CPU-timing collection, following the teacher's top-level
// DeviceParams shape generalized from one device to N targets plus a
// pass dimension.
type RunConfig struct {
	Passes   int64
	PassDelay          time.Duration
	PassDelayJitterMax time.Duration // supplemented feature: delay drawn from [PassDelay, PassDelay+JitterMax)

	// CollectCPUTiming samples this process's rusage around each
	// target's RunPass and splits the delta evenly across that pass's
	// per-worker stats (results.WorkerPassStats). Per-op timestamp
	// entries carry no CPU time.
	CollectCPUTiming bool

	AbortOnError bool

	Logger interfaces.Logger
}

// DefaultRunConfig returns a single-pass run with no artificial delay
// between passes, aborting the whole run on the first target error.
func DefaultRunConfig() RunConfig {
	return RunConfig{
		Passes:       1,
		PassDelay:    DefaultPassDelay,
		AbortOnError: true,
		Logger:       logging.Default(),
	}
}

// targetUnit is everything the orchestrator owns for one target: its
// controller, workers, and the per-target resources that must be torn
// down together.
type targetUnit struct {
	cfg        TargetConfig
	controller *target.Target
	workers    []*worker.Worker
	ring       *tsring.Ring
	arena      *iobuf.Arena
	engine     ioengine.Engine
	monitor    *restart.Monitor
	tracker    *restart.CommitTracker
	conns      []*e2e.Conn
	listeners  []*e2e.Listener
}

// Run is the assembled, ready-to-execute workload: every target's
// worker pool, the startup/pass-pacing barriers, and the results
// aggregator that reduces each pass's completions.
type Run struct {
	runCfg RunConfig
	units  []*targetUnit

	initBarrier      *barrier.Barrier
	passStartBarrier *barrier.Barrier
	aggregator       *results.Aggregator

	logger interfaces.Logger
}

// NewRun builds the worker pools, barriers, and support threads for
// every target but does not start any of them; call Execute to run the
// workload.
func NewRun(runCfg RunConfig, targetCfgs []TargetConfig, callback results.RowCallback) (*Run, error) {
	if len(targetCfgs) == 0 {
		return nil, NewError("NEW_RUN", ErrCodeConfig, "at least one target is required")
	}
	if runCfg.Passes <= 0 {
		runCfg.Passes = 1
	}
	if runCfg.Logger == nil {
		runCfg.Logger = logging.Default()
	}

	// Open every destination's listeners before any target is built: a
	// source target built later in targetCfgs must be able to dial a
	// destination built earlier (or vice versa) without deadlocking on
	// an Accept that can only succeed once its peer has had a chance to
	// dial. TCP's own backlog (not this process's control flow) is what
	// actually holds a dial that arrives before its Accept call runs.
	listenersByTarget := map[string][]*e2e.Listener{}
	for _, tc := range targetCfgs {
		if tc.Role != target.RoleDestination || tc.PeerHost == "" {
			continue
		}
		depth := tc.QueueDepth
		if depth <= 0 {
			depth = DefaultQueueDepth
		}
		lis := make([]*e2e.Listener, depth)
		for i := 0; i < depth; i++ {
			l, err := e2e.Listen(tc.PeerHost, tc.BasePort, i)
			if err != nil {
				return nil, WrapError("NEW_RUN", err)
			}
			lis[i] = l
		}
		listenersByTarget[tc.Name] = lis
	}

	supportCount := 0
	units := make([]*targetUnit, 0, len(targetCfgs))

	for _, tc := range targetCfgs {
		unit, err := buildTargetUnit(tc, listenersByTarget[tc.Name])
		if err != nil {
			return nil, err
		}
		units = append(units, unit)
		if unit.monitor != nil {
			supportCount++
		}
	}

	workerCount := 0
	for _, u := range units {
		workerCount += len(u.workers)
	}

	r := &Run{
		runCfg:           runCfg,
		units:            units,
		initBarrier:      barrier.New("run-init", workerCount+supportCount+1),
		passStartBarrier: barrier.New("run-pass-start", len(units)+1),
		aggregator:       results.New(callback),
		logger:           runCfg.Logger,
	}
	return r, nil
}

func buildTargetUnit(tc TargetConfig, listeners []*e2e.Listener) (*targetUnit, error) {
	if tc.Backend == nil {
		return nil, NewTargetError("NEW_RUN", tc.Name, ErrCodeConfig, "backend is required")
	}
	if tc.QueueDepth <= 0 {
		tc.QueueDepth = DefaultQueueDepth
	}
	if tc.ReqSize <= 0 {
		tc.ReqSize = DefaultReqSize
	}
	if tc.BlockSize <= 0 {
		tc.BlockSize = DefaultBlockSize
	}
	if tc.MaxRetries <= 0 {
		tc.MaxRetries = DefaultWorkerMaxRetries
	}
	if tc.TOTFactor <= 0 {
		tc.TOTFactor = TargetOffsetTableFactor
	}
	if tc.Observer == nil {
		tc.Observer = NoOpObserver{}
	}
	if tc.Logger == nil {
		tc.Logger = logging.Default()
	}

	targetOps := tc.targetOps()
	if targetOps <= 0 {
		return nil, NewTargetError("NEW_RUN", tc.Name, ErrCodeConfig, "one of TargetOps or TotalBytes must be set")
	}

	iosize := tc.ioSize()
	geometry := seeklist.Geometry{
		StartOffset: tc.StartOffset,
		PassOffset:  tc.PassOffset,
		IOSize:      iosize,
		BlockSize:   tc.BlockSize,
		TargetOps:   targetOps,
		RangeBytes:  tc.RangeBytes,
		Pattern:     tc.Pattern,
		Seed:        tc.Seed,
		Interleave:  tc.Interleave,
		RWRatio:     tc.RWRatio,
		TotalBytes:  tc.TotalBytes,
	}

	ringCapacity := int(targetOps)
	if ringCapacity <= 0 {
		ringCapacity = tc.QueueDepth * tc.TOTFactor
	}
	ring := tsring.New(ringCapacity, tsring.PolicyWrap)

	tbl := tot.New(totDiscipline(tc.Ordering), tc.QueueDepth, tc.TOTFactor)

	arena := iobuf.NewArena(iobuf.Options{Size: int(iosize), PageLen: tc.PageSize}, tc.QueueDepth)

	var engine ioengine.Engine
	var err error
	switch tc.IOEngine {
	case "uring":
		engine, err = ioengine.NewURingEngine(uint32(tc.QueueDepth * 4))
		if err != nil {
			return nil, WrapError("NEW_RUN", err)
		}
	default:
		engine = ioengine.NewSyncEngine(tc.QueueDepth)
	}

	unit := &targetUnit{cfg: tc, ring: ring, arena: arena, engine: engine}

	workers := make([]*worker.Worker, tc.QueueDepth)
	for i := 0; i < tc.QueueDepth; i++ {
		buf, err := arena.Get(i)
		if err != nil {
			return nil, WrapError("NEW_RUN", err)
		}

		wc := worker.Config{
			Index:        i,
			Backend:      tc.Backend,
			Engine:       engine,
			Buffer:       buf.Bytes(),
			Clock:        clock.New(),
			Ring:         ring,
			ToT:          tbl,
			Observer:     tc.Observer,
			Logger:       tc.Logger,
			DirectIO:     tc.DirectIO,
			PageSize:     tc.PageSize,
			MaxRetries:   tc.MaxRetries,
			VerifyWrites: tc.VerifyWrites,
		}

		if tc.Role == target.RoleSource && tc.PeerHost != "" {
			conn, err := e2e.DialSource(context.Background(), tc.PeerHost, tc.BasePort, i, iosize)
			if err != nil {
				return nil, WrapError("NEW_RUN", err)
			}
			unit.conns = append(unit.conns, conn)
			wc.Sender = &e2eSender{conn: conn, clock: wc.Clock}
		}
		if tc.Role == target.RoleDestination && tc.PeerHost != "" {
			lis := listeners[i]
			unit.listeners = append(unit.listeners, lis)

			conn, err := lis.Accept(iosize)
			if err != nil {
				return nil, WrapError("NEW_RUN", err)
			}
			unit.conns = append(unit.conns, conn)
			wc.Receiver = &e2eReceiver{conn: conn, clock: wc.Clock, iosize: iosize, totalOps: targetOps}
		}

		workers[i] = worker.New(wc)
	}
	unit.workers = workers

	unit.controller = target.New(target.Config{
		Name:       tc.Name,
		QueueDepth: tc.QueueDepth,
		Ordering:   tc.Ordering,
		Role:       tc.Role,
		Geometry:   geometry,
		Ring:       ring,
	}, workers)

	if tc.RestartPath != "" {
		startOffset := tc.StartOffset
		if tc.RestartResume {
			rec, err := restart.ReadFile(tc.RestartPath)
			if err == nil {
				var remaining int64
				startOffset, remaining = restart.ResumeGeometry(rec, tc.BlockSize, tc.TotalBytes)
				startOffset *= tc.BlockSize
				_ = remaining
			}
		}
		unit.tracker = restart.NewCommitTracker(startOffset)
		freq := tc.RestartFrequency
		if freq <= 0 {
			freq = DefaultRestartFrequency
		}
		var flags restart.Flag
		if tc.Role == target.RoleSource {
			flags |= restart.FlagIsSource
		}
		if tc.RestartResume {
			flags |= restart.FlagResumeCopy
		}
		base := restart.Record{
			SourceHost:      tc.SourceHost,
			SourcePath:      tc.SourcePath,
			DestinationHost: tc.DestinationHost,
			DestinationPath: tc.DestinationPath,
			LowByteOffset:   tc.StartOffset,
			HighByteOffset:  tc.StartOffset + tc.TotalBytes,
			Flags:           flags,
		}
		unit.monitor = restart.NewMonitor(tc.RestartPath, base, unit.tracker, freq)
	}

	return unit, nil
}

func totDiscipline(o target.Ordering) tot.Discipline {
	switch o {
	case target.OrderingStrict:
		return tot.DisciplineStrict
	case target.OrderingLoose:
		return tot.DisciplineLoose
	default:
		return tot.DisciplineNone
	}
}

// e2eSender adapts an e2e.Conn to worker.Sender for an E2E source
// worker, stamping send timestamps from the worker's own clock.
type e2eSender struct {
	conn  *e2e.Conn
	clock *clock.Clock
}

func (s *e2eSender) Send(ctx context.Context, buf []byte, byteLocation int64, opNumber int64) (uint64, uint64, error) {
	start := s.clock.Now()
	err := s.conn.SendData(buf, byteLocation, start)
	end := s.clock.Now()
	return start, end, err
}

func (s *e2eSender) SendEOF(ctx context.Context) error {
	return s.conn.SendEOF(s.clock.Now())
}

// e2eReceiver adapts an e2e.Conn to worker.Receiver for an E2E
// destination worker. It enforces §4.8's receive-side checks: the
// per-connection sequence number must advance by exactly one each
// frame, and a DATA frame's header must agree with what this op number
// was supposed to carry (ValidateDestination). Both are hard errors per
// §7 ("sequence gap, byte-location mismatch... Always fatal").
type e2eReceiver struct {
	conn     *e2e.Conn
	clock    *clock.Clock
	iosize   int64
	totalOps int64

	seenSeq bool
	lastSeq uint64
}

func (r *e2eReceiver) Receive(ctx context.Context, buf []byte, opNumber int64) (int, bool, uint64, uint64, error) {
	start := r.clock.Now()
	frame, err := r.conn.Receive(buf)
	end := r.clock.Now()
	if err != nil {
		return 0, false, start, end, err
	}

	if r.seenSeq && frame.Header.Sequence != r.lastSeq+1 {
		return 0, false, start, end, fmt.Errorf("e2e: sequence gap: got %d, want %d", frame.Header.Sequence, r.lastSeq+1)
	}
	r.lastSeq = frame.Header.Sequence
	r.seenSeq = true

	if frame.IsEOF {
		return 0, true, start, end, nil
	}

	isFinal := r.totalOps > 0 && opNumber == r.totalOps-1
	if err := e2e.ValidateDestination(frame.Header, opNumber, r.iosize, isFinal); err != nil {
		return 0, false, start, end, err
	}

	return int(frame.Header.Length), false, start, end, nil
}

// passOutcome is what one target's per-pass goroutine reports back to
// Execute: its reduced worker stats, or the error that ended its run.
type passOutcome struct {
	targetName string
	stats      []results.WorkerPassStats
	err        error
}

// Execute runs the workload to completion: brings every worker and
// support thread up through the init barrier, drives Passes passes
// releasing each target at the pass-start barrier and collecting its
// completion before aggregating, then signals STOP to every worker and
// joins all of them. Execute returns the first error any target
// reported, after every worker and restart-monitor goroutine has been
// joined. The per-target pass goroutines are not joined; they exit on
// their own once the run's context is cancelled.
func (r *Run) Execute(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	passCh := make(chan passOutcome, len(r.units))

	for _, u := range r.units {
		u := u
		for _, w := range u.workers {
			w := w
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.initBarrier.Enter(ctx, u.cfg.Name, barrier.OccupantWorker); err != nil {
					return
				}
				w.Run(ctx)
			}()
		}
		if u.monitor != nil {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if err := r.initBarrier.Enter(ctx, u.cfg.Name+"-restart", barrier.OccupantSupport); err != nil {
					return
				}
				u.monitor.Run()
			}()
		}
	}

	for _, u := range r.units {
		u := u
		go func() {
			for pass := int64(0); pass < r.runCfg.Passes; pass++ {
				if err := r.passStartBarrier.Enter(ctx, u.cfg.Name, barrier.OccupantTarget); err != nil {
					passCh <- passOutcome{targetName: u.cfg.Name, err: err}
					return
				}

				var before, after unix.Rusage
				if r.runCfg.CollectCPUTiming {
					_ = unix.Getrusage(unix.RUSAGE_SELF, &before)
				}

				err := u.controller.RunPass(ctx, pass)

				var userNs, sysNs uint64
				if r.runCfg.CollectCPUTiming {
					_ = unix.Getrusage(unix.RUSAGE_SELF, &after)
					userNs = rusageDeltaNs(before.Utime, after.Utime)
					sysNs = rusageDeltaNs(before.Stime, after.Stime)
				}

				stats := extractPassStats(u, pass)
				if len(stats) > 0 && (userNs > 0 || sysNs > 0) {
					perUser := userNs / uint64(len(stats))
					perSys := sysNs / uint64(len(stats))
					for i := range stats {
						stats[i].CPUUserNs = perUser
						stats[i].CPUSystemNs = perSys
					}
				}

				passCh <- passOutcome{targetName: u.cfg.Name, stats: stats, err: err}
				if err != nil {
					return
				}
			}
		}()
	}

	if err := r.initBarrier.Enter(ctx, "main", barrier.OccupantMain); err != nil {
		cancel()
		barrier.DestroyAll()
		wg.Wait()
		return WrapError("RUN", err)
	}

	var firstErr error
	for pass := int64(0); pass < r.runCfg.Passes; pass++ {
		if pass > 0 && (r.runCfg.PassDelay > 0 || r.runCfg.PassDelayJitterMax > 0) {
			time.Sleep(r.jitteredDelay())
		}

		if err := r.passStartBarrier.Enter(ctx, "main", barrier.OccupantMain); err != nil {
			firstErr = WrapError("RUN", err)
			break
		}

		perTarget := make(map[string][]results.WorkerPassStats, len(r.units))
		for range r.units {
			out := <-passCh
			if out.err != nil && firstErr == nil {
				firstErr = NewTargetError("RUN_PASS", out.targetName, ErrCodePerOp, out.err.Error())
			}
			perTarget[out.targetName] = out.stats
		}

		r.aggregator.RunPass(pass, perTarget)

		if firstErr != nil && r.runCfg.AbortOnError {
			break
		}
	}

	for _, u := range r.units {
		for _, w := range u.workers {
			w.Assign(worker.Task{Kind: worker.TaskStop})
			<-w.Results()
		}
	}
	for _, u := range r.units {
		if u.monitor != nil {
			_ = u.monitor.Stop(firstErr == nil)
		}
		for _, c := range u.conns {
			_ = c.Close()
		}
		for _, lis := range u.listeners {
			_ = lis.Close()
		}
		_ = u.arena.ReleaseAll()
		if u.engine != nil {
			_ = u.engine.Close()
		}
	}

	cancel()
	wg.Wait()
	barrier.DestroyAll()

	return firstErr
}

func (r *Run) jitteredDelay() time.Duration {
	d := r.runCfg.PassDelay
	if r.runCfg.PassDelayJitterMax > 0 {
		d += time.Duration(rand.Int63n(int64(r.runCfg.PassDelayJitterMax)))
	}
	return d
}

// extractPassStats reduces a target's ring entries for one pass into
// per-worker stats, grouping by the WorkerNumber the worker itself
// stamped into each tsring.Entry.
func extractPassStats(u *targetUnit, pass int64) []results.WorkerPassStats {
	byWorker := map[uint32]*results.WorkerPassStats{}

	for _, e := range u.ring.Snapshot() {
		if int64(e.PassNumber) != pass {
			continue
		}

		s, ok := byWorker[e.WorkerNumber]
		if !ok {
			s = &results.WorkerPassStats{WorkerNumber: int(e.WorkerNumber), EarliestStart: e.DiskStartNs, LatestEnd: e.DiskEndNs}
			byWorker[e.WorkerNumber] = s
		}

		switch seeklist.OpType(e.OpType) {
		case seeklist.OpRead:
			s.ReadOps++
			s.ReadBytes += int64(e.BytesXferred)
		case seeklist.OpWrite:
			s.WriteOps++
			s.WriteBytes += int64(e.BytesXferred)
		}

		if e.DiskStartNs < s.EarliestStart {
			s.EarliestStart = e.DiskStartNs
		}
		if e.DiskEndNs > s.LatestEnd {
			s.LatestEnd = e.DiskEndNs
		}
		s.SumOpLatencyNs += e.DiskEndNs - e.DiskStartNs
		s.OpCount++

		if u.tracker != nil {
			u.tracker.Report(int64(e.ByteLocation), int64(e.BytesXferred))
		}
	}

	out := make([]results.WorkerPassStats, 0, len(byWorker))
	for _, s := range byWorker {
		out = append(out, *s)
	}
	return out
}

func rusageDeltaNs(before, after unix.Timeval) uint64 {
	sec := after.Sec - before.Sec
	usec := after.Usec - before.Usec
	ns := sec*1e9 + usec*1e3
	if ns < 0 {
		return 0
	}
	return uint64(ns)
}
