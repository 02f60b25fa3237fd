package pool

import "context"

// SendHandle tracks an in-flight send. The message payload belongs to
// the transport until Done returns; callers must not reuse or mutate it
// before then.
type SendHandle interface {
	// Done blocks until the message has been handed off or ctx ends.
	Done(ctx context.Context) error
}

// Transport is the primary's view of its replicas. Replicas are
// addressed by rank 1..Ranks(); rank 0 is the primary itself and is
// never a valid destination.
type Transport interface {
	// Ranks returns the number of replicas.
	Ranks() int

	// Send starts delivering msg to the given replica rank.
	Send(ctx context.Context, rank int, msg Message) (SendHandle, error)

	// Recv blocks until any replica has a message ready and returns it
	// together with the sender's rank.
	Recv(ctx context.Context) (int, Message, error)

	// Close releases transport resources. Replicas should have been
	// terminated first.
	Close() error
}

// ReplicaTransport is one replica's view of the primary.
type ReplicaTransport interface {
	// Recv blocks until the primary has a message for this replica.
	Recv(ctx context.Context) (Message, error)

	// Send starts delivering msg to the primary.
	Send(ctx context.Context, msg Message) (SendHandle, error)
}

// doneHandle is a SendHandle for sends that completed synchronously.
type doneHandle struct{ err error }

func (h doneHandle) Done(context.Context) error { return h.err }
