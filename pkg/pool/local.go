package pool

import (
	"context"

	"github.com/winmsa/winmsa/pkg/errors"
)

// routed is a replica message stamped with its sender's rank.
type routed struct {
	rank int
	msg  Message
	err  error
}

// LocalTransport connects a primary to replica goroutines in the same
// process. Each replica has its own inbound channel; all replicas share
// one outbound channel, which gives the primary its wait-any receive.
type LocalTransport struct {
	toReplica []chan Message
	fromAll   chan routed
}

// NewLocalTransport creates channels for the given number of replicas.
func NewLocalTransport(replicas int) *LocalTransport {
	t := &LocalTransport{
		toReplica: make([]chan Message, replicas),
		fromAll:   make(chan routed, replicas),
	}
	for i := range t.toReplica {
		t.toReplica[i] = make(chan Message)
	}
	return t
}

// Ranks returns the number of replicas.
func (t *LocalTransport) Ranks() int {
	return len(t.toReplica)
}

// Send delivers msg to the replica's inbound channel. The returned
// handle completes once the replica has picked the message up.
func (t *LocalTransport) Send(ctx context.Context, rank int, msg Message) (SendHandle, error) {
	if rank < 1 || rank > len(t.toReplica) {
		return nil, errors.New(errors.CodeTransportFailed, "send to unknown rank").
			WithContext("rank", rank)
	}
	h := &localSend{done: make(chan error, 1)}
	go func() {
		select {
		case t.toReplica[rank-1] <- msg:
			h.done <- nil
		case <-ctx.Done():
			h.done <- errors.ContextCanceled("local send")
		}
	}()
	return h, nil
}

// Recv waits for a message from any replica.
func (t *LocalTransport) Recv(ctx context.Context) (int, Message, error) {
	select {
	case r := <-t.fromAll:
		return r.rank, r.msg, r.err
	case <-ctx.Done():
		return 0, Message{}, errors.ContextCanceled("local receive")
	}
}

// Close is a no-op; channel memory is reclaimed with the transport.
func (t *LocalTransport) Close() error {
	return nil
}

// Replica returns the transport endpoint for the given rank, for use by
// that replica's goroutine.
func (t *LocalTransport) Replica(rank int) ReplicaTransport {
	return &localReplica{parent: t, rank: rank}
}

type localSend struct {
	done chan error
}

func (h *localSend) Done(ctx context.Context) error {
	select {
	case err := <-h.done:
		return err
	case <-ctx.Done():
		return errors.ContextCanceled("wait for send")
	}
}

type localReplica struct {
	parent *LocalTransport
	rank   int
}

func (r *localReplica) Recv(ctx context.Context) (Message, error) {
	select {
	case msg := <-r.parent.toReplica[r.rank-1]:
		return msg, nil
	case <-ctx.Done():
		return Message{}, errors.ContextCanceled("replica receive")
	}
}

func (r *localReplica) Send(ctx context.Context, msg Message) (SendHandle, error) {
	select {
	case r.parent.fromAll <- routed{rank: r.rank, msg: msg}:
		return doneHandle{}, nil
	case <-ctx.Done():
		return nil, errors.ContextCanceled("replica send")
	}
}
