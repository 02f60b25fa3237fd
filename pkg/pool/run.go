package pool

import (
	"context"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/errors"
)

// Options configures a pool run.
type Options struct {
	// Replicas is the number of replica goroutines to start. Zero or
	// less runs every job inline on the calling goroutine.
	Replicas int

	// Transport, when set, overrides the in-process pool. The caller
	// owns the transport's replicas and its shutdown; Replicas is
	// ignored.
	Transport Transport

	// OnResult, when set, observes each result as it arrives.
	OnResult func(model.WindowResult)

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

// Run executes jobs through the configured pool and returns one result
// per job in completion order.
func Run(ctx context.Context, jobs []model.WindowJob, exec Executor, opts Options) ([]model.WindowResult, error) {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Transport != nil {
		d := NewDistributor(opts.Transport, opts.Logger)
		d.OnResult = opts.OnResult
		return d.Run(ctx, jobs)
	}
	if opts.Replicas <= 0 {
		return runInline(ctx, jobs, exec, opts)
	}
	return runLocal(ctx, jobs, exec, opts)
}

// runInline is the zero-replica fallback: jobs run one after another on
// the caller, with the same panic containment replicas provide.
func runInline(ctx context.Context, jobs []model.WindowJob, exec Executor, opts Options) ([]model.WindowResult, error) {
	logger := opts.Logger.With("component", "pool")
	results := make([]model.WindowResult, 0, len(jobs))
	for _, job := range jobs {
		select {
		case <-ctx.Done():
			return results, errors.ContextCanceled("inline pool run")
		default:
		}
		res := runJob(ctx, exec, job)
		if res.Failed() {
			logger.Warn("window job failed", "job_id", job.ID, "error", res.Err)
		}
		results = append(results, res)
		if opts.OnResult != nil {
			opts.OnResult(res)
		}
	}
	return results, nil
}

func runLocal(ctx context.Context, jobs []model.WindowJob, exec Executor, opts Options) ([]model.WindowResult, error) {
	t := NewLocalTransport(opts.Replicas)
	defer t.Close()

	// Replicas get their own cancel so a fatal distributor error can
	// unblock loops that never received a terminate message.
	rctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var g errgroup.Group
	for rank := 1; rank <= opts.Replicas; rank++ {
		rank := rank
		g.Go(func() error {
			return ReplicaLoop(rctx, t.Replica(rank), exec, opts.Logger.With("rank", rank))
		})
	}

	d := NewDistributor(t, opts.Logger)
	d.OnResult = opts.OnResult
	results, err := d.Run(ctx, jobs)
	if err != nil {
		cancel()
		g.Wait()
		return results, err
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
