package fanout

import (
	"context"
	"database/sql"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

const unreachableMessage = "Instance isn't reachable."
const cancelPollInterval = 300 * time.Millisecond

// TargetError is the `error` shape a single target contributes to the
// result list (§4.2.6).
type TargetError struct {
	Type    string
	Message string
	Code    string
}

func (e *TargetError) Error() string { return e.Message }

// ResultSet holds one statement result as returned by a single target.
type ResultSet struct {
	ColumnNames   []string
	Rows          [][]string
	Warnings      []string
	ExecutionTime time.Duration
}

// InstanceRef identifies the target an entry in the result list belongs to.
type InstanceRef struct {
	Address string
	Label   string
	Version string
}

// TargetResult is one entry of the fan-out executor's return value. Either
// Output or Error is set, never both (§4.2.6).
type TargetResult struct {
	Instance InstanceRef
	Output   []ResultSet
	Error    *TargetError
}

// Killer opens a fresh connection to address (using whatever credentials
// the caller already holds for it) and issues KILL CONNECTION connID
// against it (§4.2.4). The executor never dials connections itself: it
// only ever talks to the *sql.DB each Member already carries.
type Killer func(ctx context.Context, address string, connID int64) error

// Options configures one Run.
type Options struct {
	// Timeout bounds a target's execution; zero means no limit. When set,
	// it is pushed to the session as lock_wait_timeout (seconds) and
	// max_execution_time (milliseconds) before the statement runs.
	Timeout time.Duration

	// DryRun skips posting any task; every reachable target gets a
	// synthesized result instead (§4.2.5).
	DryRun bool

	// Interactive selects the worker-count formula and enables the
	// cancellation supervisor (§4.2.2, §4.2.4).
	Interactive bool

	// HostConcurrency is the local machine's available concurrency
	// budget; zero defaults to runtime.NumCPU().
	HostConcurrency int

	// CancelRequested, when non-nil, is closed by the caller (typically in
	// response to a signal) to ask the run to cancel in-flight targets.
	CancelRequested <-chan struct{}

	// Kill performs the cancellation protocol's KILL CONNECTION step. It
	// may be nil, in which case cancellation still stops new targets from
	// starting but can't interrupt one already running.
	Kill Killer
}

// Executor runs one statement across a resolved target list.
type Executor struct{}

// NewExecutor returns an Executor. It is stateless; every configuration
// knob lives on Options, since a program typically reuses one Executor
// across many Run calls with differing target sets and credentials.
func NewExecutor() *Executor { return &Executor{} }

type cancelEntry struct {
	address string
	connID  int64
}

// Run executes stmt against every reachable member of targets and returns
// one TargetResult per target, in the same order (§4.2.6). Unreachable
// members (Member.DB == nil) never reach a worker: they're resolved
// immediately to the literal unreachable error.
func (e *Executor) Run(ctx context.Context, targets []Member, stmt string, opts Options) ([]TargetResult, error) {
	if err := CheckSingleStatement(stmt); err != nil {
		return nil, err
	}

	results := make([]TargetResult, len(targets))
	reachable := make([]int, 0, len(targets))
	for i, m := range targets {
		if m.DB == nil {
			results[i] = unreachableResult(m)
			continue
		}
		reachable = append(reachable, i)
	}

	if len(reachable) == 0 {
		return results, nil
	}

	if opts.DryRun {
		for _, i := range reachable {
			results[i] = dryRunResult(targets[i])
		}
		return results, nil
	}

	hostConcurrency := opts.HostConcurrency
	if hostConcurrency <= 0 {
		hostConcurrency = runtime.NumCPU()
	}
	workers := WorkerCount(len(reachable), hostConcurrency, opts.Interactive)

	var (
		mu        sync.Mutex
		cancelSet = make(map[string]cancelEntry, len(reachable))
		canceled  atomic.Bool
	)

	done := make(chan struct{})
	if opts.Interactive {
		go e.superviseCancellation(ctx, &mu, cancelSet, &canceled, opts, done)
	}

	sem := semaphore.NewWeighted(int64(workers))
	var g errgroup.Group
	for _, i := range reachable {
		i := i
		m := targets[i]
		if err := sem.Acquire(ctx, 1); err != nil {
			results[i] = errorResult(m, err)
			continue
		}
		g.Go(func() error {
			defer sem.Release(1)
			results[i] = runTarget(ctx, m, stmt, opts, &mu, cancelSet, &canceled)
			return nil
		})
	}
	g.Wait()
	close(done)

	sortByAddress(results)
	return results, nil
}

// sortByAddress orders the final result list for display (§5: "results are
// collected in completion order and then sorted by address for display").
// Completion order only matters internally, while tasks race each other;
// Run already writes each result to its target's original slot, so this is
// a plain stable sort rather than a reordering of in-flight work.
func sortByAddress(results []TargetResult) {
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Instance.Address < results[j].Instance.Address
	})
}

// WorkerCount implements the bounded worker-pool formula of §4.2.2. The
// "+1" in interactive mode reserves a worker for the supervisor.
func WorkerCount(targets, hostConcurrency int, interactive bool) int {
	if interactive {
		return min(targets+1, max(hostConcurrency-1, 2))
	}
	return min(targets, max(hostConcurrency-1, 1))
}

func (e *Executor) superviseCancellation(ctx context.Context, mu *sync.Mutex, cancelSet map[string]cancelEntry, canceled *atomic.Bool, opts Options, done <-chan struct{}) {
	ticker := time.NewTicker(cancelPollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !canceled.Load() && opts.CancelRequested != nil {
				select {
				case <-opts.CancelRequested:
					canceled.Store(true)
				default:
				}
			}
			if !canceled.Load() {
				continue
			}
			mu.Lock()
			toKill := make(map[string]cancelEntry, len(cancelSet))
			for k, v := range cancelSet {
				toKill[k] = v
			}
			clear(cancelSet)
			mu.Unlock()
			if opts.Kill == nil {
				continue
			}
			for _, entry := range toKill {
				_ = opts.Kill(ctx, entry.address, entry.connID)
			}
		}
	}
}

func runTarget(ctx context.Context, m Member, stmt string, opts Options, mu *sync.Mutex, cancelSet map[string]cancelEntry, canceled *atomic.Bool) TargetResult {
	var connID int64
	if err := m.DB.QueryRowContext(ctx, "SELECT CONNECTION_ID()").Scan(&connID); err != nil {
		return errorResult(m, fmt.Errorf("resolving connection id: %w", err))
	}

	mu.Lock()
	cancelSet[m.UUID] = cancelEntry{address: m.Address, connID: connID}
	mu.Unlock()
	defer func() {
		mu.Lock()
		delete(cancelSet, m.UUID)
		mu.Unlock()
	}()

	if opts.Timeout > 0 {
		lockWaitSeconds := int(opts.Timeout / time.Second)
		if lockWaitSeconds < 1 {
			lockWaitSeconds = 1
		}
		maxExecMillis := opts.Timeout.Milliseconds()
		if _, err := m.DB.ExecContext(ctx, "SET SESSION lock_wait_timeout = ?, max_execution_time = ?", lockWaitSeconds, maxExecMillis); err != nil {
			return errorResult(m, fmt.Errorf("setting session timeouts: %w", err))
		}
	}

	if canceled.Load() {
		return canceledResult(m)
	}

	start := time.Now()
	rows, err := m.DB.QueryContext(ctx, stmt)
	if err != nil {
		if canceled.Load() {
			return canceledResult(m)
		}
		return errorResult(m, err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return errorResult(m, err)
	}

	var out [][]string
	for rows.Next() {
		raw := make([]sql.NullString, len(columns))
		ptrs := make([]any, len(columns))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return errorResult(m, err)
		}
		row := make([]string, len(columns))
		for i, v := range raw {
			row[i] = v.String
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		if canceled.Load() {
			return canceledResult(m)
		}
		return errorResult(m, err)
	}

	elapsed := time.Since(start)
	warnings := fetchWarnings(ctx, m.DB)

	return TargetResult{
		Instance: instanceRef(m),
		Output: []ResultSet{{
			ColumnNames:   columns,
			Rows:          out,
			Warnings:      warnings,
			ExecutionTime: elapsed,
		}},
	}
}

func fetchWarnings(ctx context.Context, db *sql.DB) []string {
	rows, err := db.QueryContext(ctx, "SHOW WARNINGS")
	if err != nil {
		return nil
	}
	defer rows.Close()

	var warnings []string
	for rows.Next() {
		var level, message string
		var code int
		if err := rows.Scan(&level, &code, &message); err != nil {
			return warnings
		}
		warnings = append(warnings, fmt.Sprintf("%s %d: %s", level, code, message))
	}
	return warnings
}

func instanceRef(m Member) InstanceRef {
	return InstanceRef{Address: m.Address, Label: m.Label, Version: m.Version}
}

func unreachableResult(m Member) TargetResult {
	return TargetResult{
		Instance: InstanceRef{Address: m.Address, Label: m.Label},
		Error:    &TargetError{Type: "mysqlsh", Message: unreachableMessage},
	}
}

func dryRunResult(m Member) TargetResult {
	return TargetResult{
		Instance: instanceRef(m),
		Output:   []ResultSet{{Warnings: []string{"dry run execution"}}},
	}
}

func errorResult(m Member, err error) TargetResult {
	return TargetResult{
		Instance: instanceRef(m),
		Error:    &TargetError{Type: "mysqlsh", Message: err.Error()},
	}
}

func canceledResult(m Member) TargetResult {
	return TargetResult{
		Instance: instanceRef(m),
		Error:    &TargetError{Type: "canceled", Message: "canceled"},
	}
}
