package scheduler

import (
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// JobSpec describes one training run. It is immutable once submitted:
// the dispatcher re-enqueues the same spec on failure rather than mutating
// it. Identity is the spec's position in the submitted slice, which also
// fixes the position of its record in the returned results.
type JobSpec struct {
	// Task locates the federated task (data partition) the worker trains on.
	Task string `mapstructure:"task" json:"task"`

	// Algorithm names the federated algorithm module the worker should run.
	Algorithm string `mapstructure:"algorithm" json:"algorithm"`

	// Options is the hyper-parameter mapping handed to the worker verbatim,
	// plus the device index injected at dispatch time.
	Options map[string]interface{} `mapstructure:"option" json:"option"`

	// Optional collaborator references, passed through to the worker.
	Model     string `mapstructure:"model" json:"model,omitempty"`
	Logger    string `mapstructure:"logger" json:"logger,omitempty"`
	Simulator string `mapstructure:"simulator" json:"simulator,omitempty"`
	Scene     string `mapstructure:"scene" json:"scene,omitempty"`
}

// workerOptions are the option keys the scheduler itself has a contract
// with. Everything else in Options is opaque to us.
type workerOptions struct {
	// GPU is the assigned device index. Set by the dispatcher, never by
	// the caller.
	GPU int `mapstructure:"gpu"`

	// EarlyStop is the number of consecutive non-improving validation
	// rounds the worker tolerates before terminating itself. Consumed
	// entirely inside the worker.
	EarlyStop int `mapstructure:"early_stop"`
}

// Validate reports whether the spec can be dispatched at all. A failure here
// is fatal at submission time: no amount of retrying fixes a missing field.
func (s *JobSpec) Validate() error {
	if s == nil {
		return errors.New("nil job spec")
	}
	if s.Task == "" {
		return errors.New("job spec missing task")
	}
	if s.Algorithm == "" {
		return errors.New("job spec missing algorithm")
	}
	// Decode the contract keys now so a mistyped early_stop fails fast
	// instead of crashing every dispatch attempt.
	var wo workerOptions
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &wo,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(s.Options); err != nil {
		return errors.Wrap(err, "job spec options")
	}
	if wo.EarlyStop < 0 {
		return errors.New("job spec early_stop must be >= 0")
	}
	return nil
}

// JobState is the lifecycle of a submitted spec.
// Pending --dispatch--> Running --exit(0)--> Completed (terminal).
// Running --exit(nonzero)--> Pending is the retry edge; there are no others.
type JobState int

const (
	Pending JobState = iota
	Running
	Completed
)

func (s JobState) String() string {
	switch s {
	case Pending:
		return "PENDING"
	case Running:
		return "RUNNING"
	case Completed:
		return "COMPLETED"
	default:
		return "INVALID"
	}
}
