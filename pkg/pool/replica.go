package pool

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/errors"
)

// Executor runs one window job and reports its result. Implementations
// signal failure through the result's Err field, not a Go error, so a
// bad job never takes its replica down with it.
type Executor func(ctx context.Context, job model.WindowJob) model.WindowResult

// ReplicaLoop receives jobs from the primary until a terminate message
// arrives. Panics inside the executor are converted into error results
// and reported back; the loop itself only fails on transport problems.
func ReplicaLoop(ctx context.Context, t ReplicaTransport, exec Executor, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "replica")

	for {
		msg, err := t.Recv(ctx)
		if err != nil {
			return errors.Wrap(err, errors.CodeTransportFailed, "receive from primary")
		}

		switch msg.Tag {
		case TagTerminate:
			logger.Debug("replica terminating")
			return nil
		case TagWork:
			res := decodeAndRun(ctx, msg.Payload, exec)
			tag := TagResult
			if res.Failed() {
				tag = TagError
			}
			payload, err := EncodeResult(res)
			if err != nil {
				return err
			}
			h, err := t.Send(ctx, Message{Tag: tag, Payload: payload})
			if err != nil {
				return errors.Wrap(err, errors.CodeTransportFailed, "send result").
					WithContext("job_id", res.JobID)
			}
			if err := h.Done(ctx); err != nil {
				return errors.Wrap(err, errors.CodeTransportFailed, "confirm result delivery").
					WithContext("job_id", res.JobID)
			}
		default:
			return errors.New(errors.CodeTransportFailed, "unexpected message tag").
				WithContext("tag", msg.Tag.String())
		}
	}
}

// decodeAndRun turns a work payload into a result, absorbing decode
// failures and executor panics into the result's Err field.
func decodeAndRun(ctx context.Context, payload []byte, exec Executor) model.WindowResult {
	job, err := DecodeJob(payload)
	if err != nil {
		return model.WindowResult{Err: err.Error()}
	}
	return runJob(ctx, exec, job)
}

func runJob(ctx context.Context, exec Executor, job model.WindowJob) (res model.WindowResult) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			res = model.WindowResult{
				JobID:     job.ID,
				Reference: job.Reference,
				Start:     job.Start,
				End:       job.End,
				Err:       fmt.Sprintf("panic: %v", r),
			}
		}
		res.ElapsedMillis = time.Since(start).Milliseconds()
	}()
	return exec(ctx, job)
}
