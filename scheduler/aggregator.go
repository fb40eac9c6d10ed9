package scheduler

import (
	"bytes"
	"encoding/json"
	"math"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// Record is the structured output of one completed job: the logger's output
// mapping plus the echoed option values the run used. Immutable once
// captured.
type Record struct {
	// Output maps metric name to value, e.g. "val_loss" to a sequence of
	// per-round losses. A job that early-stopped simply has a shorter
	// sequence; that is not an error.
	Output map[string]interface{} `json:"output"`

	// Options echoes the option values used for the run, device included.
	Options map[string]interface{} `json:"option"`
}

// ValLoss decodes the record's validation-loss sequence. Tuning requires it
// by contract with the logger collaborator; plain runs may omit it.
func (r *Record) ValLoss() ([]float64, error) {
	raw, ok := r.Output["val_loss"]
	if !ok {
		return nil, errors.New("record has no val_loss sequence")
	}
	var seq []float64
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &seq,
	})
	if err != nil {
		return nil, err
	}
	if err := dec.Decode(raw); err != nil {
		return nil, errors.Wrap(err, "val_loss")
	}
	return seq, nil
}

// aggregator collects records keyed by original submission index, so the
// returned collection mirrors submission order no matter the completion
// order.
type aggregator struct {
	records []*Record
}

func newAggregator(n int) *aggregator {
	return &aggregator{records: make([]*Record, n)}
}

// add parses a worker's captured stdout and stores its record. The worker
// contract is that the final line of stdout is the record JSON.
func (a *aggregator) add(index int, stdout []byte) error {
	line := lastLine(stdout)
	if len(line) == 0 {
		return errors.New("worker produced no output")
	}
	var rec Record
	if err := json.Unmarshal(line, &rec); err != nil {
		return errors.Wrap(err, "parsing worker output")
	}
	a.records[index] = &rec
	return nil
}

func (a *aggregator) results() []*Record {
	return a.records
}

func lastLine(b []byte) []byte {
	b = bytes.TrimSpace(b)
	if i := bytes.LastIndexByte(b, '\n'); i >= 0 {
		b = b[i+1:]
	}
	return bytes.TrimSpace(b)
}

// Best identifies the global minimum observed validation loss across a set
// of completed records.
type Best struct {
	// Index is the submission index of the winning record.
	Index int
	// Round is the zero-based round at which the minimum occurred.
	Round int
	// ValLoss is the minimum value itself.
	ValLoss float64
	// Options echoes the winning run's option values.
	Options map[string]interface{}
}

// BestRecord scans records in submission order and returns the minimum
// val_loss and where it occurred. Ties go to the earliest submission, then
// the earliest round. Records without a val_loss sequence are skipped, but a
// sequence that is present and does not decode is an error: silently
// excluding that grid point would misreport the winner. It is also an error
// if no record has a sequence at all.
func BestRecord(records []*Record) (Best, error) {
	best := Best{Index: -1, ValLoss: math.Inf(1)}
	for i, rec := range records {
		if rec == nil {
			continue
		}
		if _, ok := rec.Output["val_loss"]; !ok {
			continue
		}
		seq, err := rec.ValLoss()
		if err != nil {
			return best, errors.Wrapf(err, "record %d", i)
		}
		for round, v := range seq {
			if v < best.ValLoss {
				best = Best{Index: i, Round: round, ValLoss: v, Options: rec.Options}
			}
		}
	}
	if best.Index < 0 {
		return best, errors.New("no record exposes a val_loss sequence")
	}
	return best, nil
}
