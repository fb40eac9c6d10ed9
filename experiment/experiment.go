// Package experiment provides the caller-facing entry points: a multi-run
// launcher over explicit job configurations and a grid-search tuner. Both
// delegate device assignment, subprocess lifecycle and crash recovery to a
// scheduler.Dispatcher.
package experiment

import (
	"context"

	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"github.com/Willam-Ni/easyFL/scheduler"
)

// DecodeSpecs converts untyped job configuration mappings (keys: task,
// algorithm, option, model, logger, simulator, scene) into JobSpecs.
func DecodeSpecs(configs []map[string]interface{}) ([]*scheduler.JobSpec, error) {
	specs := make([]*scheduler.JobSpec, len(configs))
	for i, cfg := range configs {
		spec := &scheduler.JobSpec{}
		dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
			WeaklyTypedInput: true,
			ErrorUnused:      true,
			Result:           spec,
		})
		if err != nil {
			return nil, err
		}
		if err := dec.Decode(cfg); err != nil {
			return nil, errors.Wrapf(err, "job config %d", i)
		}
		specs[i] = spec
	}
	return specs, nil
}

// RunAll launches one job per configuration and blocks until all complete.
// The result slice mirrors the configuration order regardless of completion
// order.
func RunAll(ctx context.Context, d *scheduler.Dispatcher, configs []map[string]interface{}) ([]*scheduler.Record, error) {
	specs, err := DecodeSpecs(configs)
	if err != nil {
		return nil, err
	}
	return d.Run(ctx, specs)
}

// TuneRequest describes one grid search: a single task and algorithm, and
// an options mapping whose values may be scalars or lists. The grid is the
// full Cartesian product of the list-valued options.
type TuneRequest struct {
	Task      string                 `mapstructure:"task" json:"task"`
	Algorithm string                 `mapstructure:"algorithm" json:"algorithm"`
	Options   map[string]interface{} `mapstructure:"option" json:"option"`
	Model     string                 `mapstructure:"model" json:"model,omitempty"`
	Logger    string                 `mapstructure:"logger" json:"logger,omitempty"`
	Simulator string                 `mapstructure:"simulator" json:"simulator,omitempty"`
	Scene     string                 `mapstructure:"scene" json:"scene,omitempty"`
}

// TuneResult is the winning configuration: the options of the run that
// attained the global minimum validation loss, and the round at which the
// minimum was observed. Ties go to the first-submitted configuration.
type TuneResult struct {
	Options map[string]interface{} `json:"option"`
	Round   int                    `json:"round"`
	ValLoss float64                `json:"val_loss"`
	// Record is the winner's full output.
	Record *scheduler.Record `json:"record"`
	// Index is the winner's position in grid submission order.
	Index int `json:"index"`
}

// Tune expands the request's option grid, runs every combination, and
// returns the best-performing one. Each worker must record a val_loss
// sequence in its output; a sequence shortened by early stopping simply has
// fewer observed rounds.
func Tune(ctx context.Context, d *scheduler.Dispatcher, req TuneRequest) (*TuneResult, error) {
	combos := ExpandGrid(req.Options)
	if len(combos) == 0 {
		return nil, errors.New("tune request produced an empty grid")
	}
	specs := make([]*scheduler.JobSpec, len(combos))
	for i, combo := range combos {
		specs[i] = &scheduler.JobSpec{
			Task:      req.Task,
			Algorithm: req.Algorithm,
			Options:   combo,
			Model:     req.Model,
			Logger:    req.Logger,
			Simulator: req.Simulator,
			Scene:     req.Scene,
		}
	}
	log.WithFields(log.Fields{
		"task":       req.Task,
		"algorithm":  req.Algorithm,
		"gridPoints": len(combos),
	}).Info("Starting grid search")

	records, err := d.Run(ctx, specs)
	if err != nil {
		return nil, err
	}
	best, err := scheduler.BestRecord(records)
	if err != nil {
		return nil, err
	}
	return &TuneResult{
		Options: combos[best.Index],
		Round:   best.Round,
		ValLoss: best.ValLoss,
		Record:  records[best.Index],
		Index:   best.Index,
	}, nil
}
