package pool

import (
	"bufio"
	"context"
	"encoding/binary"
	"encoding/json"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/winmsa/winmsa/pkg/errors"
)

// maxFrameSize bounds one wire frame. The JSON envelope base64-encodes
// the payload, so frames run larger than MaxMessageSize; anything past
// this is a corrupt stream, not a big message.
const maxFrameSize = 2 * MaxMessageSize

// writeFrame emits one length-prefixed JSON message.
func writeFrame(w io.Writer, msg Message) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return errors.Wrap(err, errors.CodeTransportFailed, "encode frame")
	}
	if len(body) > maxFrameSize {
		return errors.MessageTooLarge(len(body), maxFrameSize)
	}
	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(body)))
	if _, err := w.Write(header[:]); err != nil {
		return errors.Wrap(err, errors.CodeTransportFailed, "write frame header")
	}
	if _, err := w.Write(body); err != nil {
		return errors.Wrap(err, errors.CodeTransportFailed, "write frame body")
	}
	return nil
}

// readFrame reads one length-prefixed JSON message. io.EOF is returned
// unwrapped so callers can tell a closed stream from a broken one.
func readFrame(r io.Reader) (Message, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return Message{}, io.EOF
		}
		return Message{}, errors.Wrap(err, errors.CodeTransportFailed, "read frame header")
	}
	size := binary.BigEndian.Uint32(header[:])
	if size > maxFrameSize {
		return Message{}, errors.New(errors.CodeDecodeFailed, "frame exceeds size limit").
			WithContext("size", size).
			WithContext("limit", maxFrameSize)
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return Message{}, errors.Wrap(err, errors.CodeTransportFailed, "read frame body")
	}
	var msg Message
	if err := json.Unmarshal(body, &msg); err != nil {
		return Message{}, errors.Wrap(err, errors.CodeDecodeFailed, "decode frame")
	}
	return msg, nil
}

// procReplica is one worker subprocess from the primary's side.
type procReplica struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	w      *bufio.Writer
	stdout io.ReadCloser
}

// ProcTransport runs replicas as subprocesses of the current binary,
// speaking length-prefixed JSON frames over stdin and stdout. Worker
// logging goes to the inherited stderr.
type ProcTransport struct {
	replicas []*procReplica
	results  chan routed
	pumps    *errgroup.Group
	closing  atomic.Bool
	logger   *slog.Logger
}

// NewProcTransport spawns the given number of worker subprocesses,
// re-executing the current binary with args. Spawn failures tear down
// any workers already started.
func NewProcTransport(ctx context.Context, replicas int, args []string, logger *slog.Logger) (*ProcTransport, error) {
	if logger == nil {
		logger = slog.Default()
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeTransportFailed, "locate worker binary")
	}

	t := &ProcTransport{
		replicas: make([]*procReplica, 0, replicas),
		results:  make(chan routed, 2*replicas),
		pumps:    &errgroup.Group{},
		logger:   logger.With("component", "pool"),
	}

	for rank := 1; rank <= replicas; rank++ {
		cmd := exec.CommandContext(ctx, exe, args...)
		cmd.Stderr = os.Stderr
		stdin, err := cmd.StdinPipe()
		if err != nil {
			t.Close()
			return nil, errors.Wrap(err, errors.CodeTransportFailed, "open worker stdin")
		}
		stdout, err := cmd.StdoutPipe()
		if err != nil {
			t.Close()
			return nil, errors.Wrap(err, errors.CodeTransportFailed, "open worker stdout")
		}
		if err := cmd.Start(); err != nil {
			t.Close()
			return nil, errors.Wrap(err, errors.CodeTransportFailed, "start worker").
				WithContext("rank", rank)
		}
		r := &procReplica{cmd: cmd, stdin: stdin, w: bufio.NewWriter(stdin), stdout: stdout}
		t.replicas = append(t.replicas, r)
		t.logger.Debug("worker started", "rank", rank, "pid", cmd.Process.Pid)

		t.pumps.Go(t.pump(rank, r))
	}
	return t, nil
}

// pump forwards one worker's replies into the shared result channel. A
// stream that ends before Close is a dead worker and is surfaced as a
// transport error on that rank.
func (t *ProcTransport) pump(rank int, r *procReplica) func() error {
	return func() error {
		br := bufio.NewReader(r.stdout)
		for {
			msg, err := readFrame(br)
			if err == io.EOF {
				if t.closing.Load() {
					return nil
				}
				t.results <- routed{rank: rank, err: errors.New(
					errors.CodeTransportFailed, "worker exited unexpectedly").
					WithContext("rank", rank)}
				return nil
			}
			if err != nil {
				if t.closing.Load() {
					return nil
				}
				t.results <- routed{rank: rank, err: err}
				return nil
			}
			t.results <- routed{rank: rank, msg: msg}
		}
	}
}

// Ranks returns the number of worker subprocesses.
func (t *ProcTransport) Ranks() int {
	return len(t.replicas)
}

// Send writes a frame to the worker's stdin. The write is synchronous,
// so the returned handle is already complete.
func (t *ProcTransport) Send(ctx context.Context, rank int, msg Message) (SendHandle, error) {
	if rank < 1 || rank > len(t.replicas) {
		return nil, errors.New(errors.CodeTransportFailed, "send to unknown rank").
			WithContext("rank", rank)
	}
	r := t.replicas[rank-1]
	if err := writeFrame(r.w, msg); err != nil {
		return nil, err
	}
	if err := r.w.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransportFailed, "flush to worker").
			WithContext("rank", rank)
	}
	return doneHandle{}, nil
}

// Recv waits for a reply from any worker.
func (t *ProcTransport) Recv(ctx context.Context) (int, Message, error) {
	select {
	case r := <-t.results:
		return r.rank, r.msg, r.err
	case <-ctx.Done():
		return 0, Message{}, errors.ContextCanceled("worker receive")
	}
}

// Close shuts the worker stdins, then waits for the pumps and the
// processes. Workers that honored their terminate message exit cleanly
// before this runs.
func (t *ProcTransport) Close() error {
	t.closing.Store(true)
	for _, r := range t.replicas {
		r.stdin.Close()
	}

	// Drain stray replies so no pump blocks on the result channel.
	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-t.results:
			case <-done:
				return
			}
		}
	}()
	t.pumps.Wait()
	close(done)

	var firstErr error
	for rank, r := range t.replicas {
		if err := r.cmd.Wait(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, errors.CodeTransportFailed, "worker exit").
				WithContext("rank", rank+1)
		}
	}
	return firstErr
}

// StdioTransport is the worker-process side of ProcTransport, framing
// messages over the process's own stdin and stdout.
type StdioTransport struct {
	r *bufio.Reader
	w *bufio.Writer
}

// NewStdioTransport wraps a frame stream, normally os.Stdin and
// os.Stdout inside a worker process.
func NewStdioTransport(r io.Reader, w io.Writer) *StdioTransport {
	return &StdioTransport{r: bufio.NewReader(r), w: bufio.NewWriter(w)}
}

// Recv reads the next frame from the primary.
func (t *StdioTransport) Recv(ctx context.Context) (Message, error) {
	msg, err := readFrame(t.r)
	if err == io.EOF {
		return Message{}, errors.New(errors.CodeTransportFailed, "primary closed the stream")
	}
	return msg, err
}

// Send writes a frame back to the primary.
func (t *StdioTransport) Send(ctx context.Context, msg Message) (SendHandle, error) {
	if err := writeFrame(t.w, msg); err != nil {
		return nil, err
	}
	if err := t.w.Flush(); err != nil {
		return nil, errors.Wrap(err, errors.CodeTransportFailed, "flush to primary")
	}
	return doneHandle{}, nil
}
