// Package pool distributes window extraction jobs from a primary
// coordinator to a set of replicas and collects their results. Replicas
// may run as goroutines in the same process or as worker subprocesses;
// both sides speak the same tagged message protocol.
package pool

import (
	"encoding/json"
	"fmt"

	"github.com/winmsa/winmsa/internal/model"
	"github.com/winmsa/winmsa/pkg/errors"
)

// MaxMessageSize caps the encoded payload of a single message. Jobs and
// results both live well under this; hitting the cap means an error
// string needs truncating, not a bigger buffer.
const MaxMessageSize = 32 * 1024

// Tag identifies the kind of a pool message.
type Tag uint8

const (
	// TagWork carries an encoded job from the primary to a replica.
	TagWork Tag = iota + 1

	// TagResult carries a successful result back to the primary.
	TagResult

	// TagError carries a failed result back to the primary. The job is
	// not retried; the replica stays available for the next job.
	TagError

	// TagTerminate tells a replica to exit its receive loop.
	TagTerminate
)

func (t Tag) String() string {
	switch t {
	case TagWork:
		return "work"
	case TagResult:
		return "result"
	case TagError:
		return "error"
	case TagTerminate:
		return "terminate"
	default:
		return fmt.Sprintf("tag(%d)", uint8(t))
	}
}

// Message is one tagged payload exchanged between primary and replica.
// Terminate messages carry no payload.
type Message struct {
	Tag     Tag    `json:"tag"`
	Payload []byte `json:"payload,omitempty"`
}

// EncodeJob serializes a job for transmission.
func EncodeJob(job model.WindowJob) ([]byte, error) {
	data, err := json.Marshal(job)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecodeFailed, "encode job").
			WithContext("job_id", job.ID)
	}
	if len(data) > MaxMessageSize {
		return nil, errors.MessageTooLarge(len(data), MaxMessageSize).
			WithContext("job_id", job.ID)
	}
	return data, nil
}

// DecodeJob deserializes a job received by a replica.
func DecodeJob(data []byte) (model.WindowJob, error) {
	var job model.WindowJob
	if err := json.Unmarshal(data, &job); err != nil {
		return model.WindowJob{}, errors.Wrap(err, errors.CodeDecodeFailed, "decode job")
	}
	return job, nil
}

// EncodeResult serializes a result for transmission. Oversized error
// strings are truncated so the result always fits a message.
func EncodeResult(res model.WindowResult) ([]byte, error) {
	data, err := json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecodeFailed, "encode result").
			WithContext("job_id", res.JobID)
	}
	if len(data) <= MaxMessageSize {
		return data, nil
	}

	// Trim past the overshoot so the ellipsis and JSON escaping cannot
	// push the payload back over the cap.
	trim := len(data) - MaxMessageSize + 64
	if len(res.Err) <= trim {
		return nil, errors.MessageTooLarge(len(data), MaxMessageSize).
			WithContext("job_id", res.JobID)
	}
	res.Err = res.Err[:len(res.Err)-trim] + "..."
	data, err = json.Marshal(res)
	if err != nil {
		return nil, errors.Wrap(err, errors.CodeDecodeFailed, "encode truncated result").
			WithContext("job_id", res.JobID)
	}
	return data, nil
}

// DecodeResult deserializes a result received by the primary.
func DecodeResult(data []byte) (model.WindowResult, error) {
	var res model.WindowResult
	if err := json.Unmarshal(data, &res); err != nil {
		return model.WindowResult{}, errors.Wrap(err, errors.CodeDecodeFailed, "decode result")
	}
	return res, nil
}
