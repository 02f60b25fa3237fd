package pool

import (
	"context"
	"log/slog"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/errors"
)

// replicaState tracks one busy replica: the job it holds and the send
// that delivered it. The send handle keeps the encoded payload alive
// until the replica's reply proves delivery.
type replicaState struct {
	job  model.WindowJob
	send SendHandle
}

// Distributor is the primary side of the pool. It hands jobs to idle
// replicas, waits on whichever replica answers first, and recycles the
// rank for the next job. A failed job costs only its own result; a
// failed transport ends the run.
type Distributor struct {
	transport Transport
	logger    *slog.Logger

	// OnResult, when set, observes each result as it arrives.
	OnResult func(model.WindowResult)
}

// NewDistributor wraps a transport. A nil logger falls back to the
// default logger.
func NewDistributor(t Transport, logger *slog.Logger) *Distributor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Distributor{
		transport: t,
		logger:    logger.With("component", "pool"),
	}
}

// Run distributes jobs across the replicas and returns the collected
// results, one per job, in completion order. On a coordination failure
// it returns the results gathered so far along with the error.
func (d *Distributor) Run(ctx context.Context, jobs []model.WindowJob) ([]model.WindowResult, error) {
	ranks := d.transport.Ranks()
	if ranks < 1 {
		return nil, errors.New(errors.CodeTransportFailed, "pool has no replicas")
	}

	idle := make([]int, 0, ranks)
	for rank := 1; rank <= ranks; rank++ {
		idle = append(idle, rank)
	}
	busy := make(map[int]*replicaState, ranks)
	results := make([]model.WindowResult, 0, len(jobs))
	next := 0

	for next < len(jobs) || len(busy) > 0 {
		for len(idle) > 0 && next < len(jobs) {
			rank := idle[0]
			idle = idle[1:]
			job := jobs[next]
			next++

			payload, err := EncodeJob(job)
			if err != nil {
				return results, err
			}
			h, err := d.transport.Send(ctx, rank, Message{Tag: TagWork, Payload: payload})
			if err != nil {
				return results, errors.Wrap(err, errors.CodeTransportFailed, "send job").
					WithContext("rank", rank).
					WithContext("job_id", job.ID)
			}
			busy[rank] = &replicaState{job: job, send: h}
			d.logger.Debug("job assigned",
				"job_id", job.ID,
				"rank", rank,
				"window", job.Start,
				"window_end", job.End)
		}

		rank, msg, err := d.transport.Recv(ctx)
		if err != nil {
			return results, errors.Wrap(err, errors.CodeTransportFailed, "receive result")
		}
		state, ok := busy[rank]
		if !ok {
			return results, errors.New(errors.CodeTransportFailed, "result from idle rank").
				WithContext("rank", rank).
				WithContext("tag", msg.Tag.String())
		}
		if err := state.send.Done(ctx); err != nil {
			return results, errors.Wrap(err, errors.CodeTransportFailed, "confirm job delivery").
				WithContext("rank", rank)
		}
		delete(busy, rank)

		switch msg.Tag {
		case TagResult, TagError:
			res, err := DecodeResult(msg.Payload)
			if err != nil {
				return results, errors.Wrap(err, errors.CodeTransportFailed, "decode result").
					WithContext("rank", rank)
			}
			if res.Failed() {
				d.logger.Warn("window job failed",
					"job_id", state.job.ID,
					"rank", rank,
					"error", res.Err)
			}
			results = append(results, res)
			if d.OnResult != nil {
				d.OnResult(res)
			}
		default:
			return results, errors.New(errors.CodeTransportFailed, "unexpected reply tag").
				WithContext("rank", rank).
				WithContext("tag", msg.Tag.String())
		}
		idle = append(idle, rank)
	}

	for rank := 1; rank <= ranks; rank++ {
		h, err := d.transport.Send(ctx, rank, Message{Tag: TagTerminate})
		if err != nil {
			d.logger.Warn("terminate not delivered", "rank", rank, "error", err)
			continue
		}
		if err := h.Done(ctx); err != nil {
			d.logger.Warn("terminate not confirmed", "rank", rank, "error", err)
		}
	}
	return results, nil
}
