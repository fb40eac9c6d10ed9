package experiment

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Willam-Ni/easyFL/runner/execer/execers"
	"github.com/Willam-Ni/easyFL/scheduler"
)

// lossCommand builds simulated worker steps whose recorded val_loss sequence
// is taken straight from the spec's "losses" option.
func lossCommand(spec *scheduler.JobSpec, device int) ([]string, error) {
	rec := map[string]interface{}{
		"output": map[string]interface{}{"val_loss": spec.Options["losses"]},
		"option": spec.Options,
	}
	b, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	return []string{"stdout " + string(b), "complete 0"}, nil
}

func testDispatcher(devices []int) *scheduler.Dispatcher {
	cfg := scheduler.Config{
		PollPeriod:    time.Millisecond,
		BaselineUsage: 1,
		WorkerCommand: lossCommand,
	}
	return scheduler.NewDispatcher(cfg, execers.NewSimExecer(),
		scheduler.NewBasicChecker(devices), nil, devices, nil, nil)
}

func TestDecodeSpecs(t *testing.T) {
	specs, err := DecodeSpecs([]map[string]interface{}{
		{
			"task":      "mnist_classification",
			"algorithm": "fedavg",
			"option":    map[string]interface{}{"num_rounds": 20},
			"model":     "cnn",
		},
	})
	require.NoError(t, err)
	require.Len(t, specs, 1)
	assert.Equal(t, "mnist_classification", specs[0].Task)
	assert.Equal(t, "fedavg", specs[0].Algorithm)
	assert.Equal(t, "cnn", specs[0].Model)
	assert.Equal(t, 20, specs[0].Options["num_rounds"])
}

func TestDecodeSpecsRejectsUnknownKeys(t *testing.T) {
	_, err := DecodeSpecs([]map[string]interface{}{
		{"task": "t", "algorithm": "a", "tsak": "typo"},
	})
	assert.Error(t, err)
}

func TestRunAllOrdered(t *testing.T) {
	d := testDispatcher([]int{0, 1})
	configs := []map[string]interface{}{
		{"task": "t", "algorithm": "a", "option": map[string]interface{}{"losses": []interface{}{0.5, 0.4}}},
		{"task": "t", "algorithm": "a", "option": map[string]interface{}{"losses": []interface{}{0.9}}},
	}
	records, err := RunAll(context.Background(), d, configs)
	require.NoError(t, err)
	require.Len(t, records, 2)

	seq, err := records[0].ValLoss()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.5, 0.4}, seq)
	seq, err = records[1].ValLoss()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.9}, seq)
}

func TestTunePicksGlobalMinimum(t *testing.T) {
	d := testDispatcher([]int{0})
	res, err := Tune(context.Background(), d, TuneRequest{
		Task:      "t",
		Algorithm: "a",
		Options: map[string]interface{}{
			"losses": []interface{}{
				[]interface{}{0.9, 0.6},
				[]interface{}{0.8, 0.3, 0.7},
				[]interface{}{0.5},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Index)
	assert.Equal(t, 1, res.Round)
	assert.Equal(t, 0.3, res.ValLoss)
	require.NotNil(t, res.Record)
	assert.Equal(t, []interface{}{0.8, 0.3, 0.7}, res.Options["losses"])
}

func TestTuneTieGoesToFirstCombination(t *testing.T) {
	d := testDispatcher([]int{0, 1})
	res, err := Tune(context.Background(), d, TuneRequest{
		Task:      "t",
		Algorithm: "a",
		Options: map[string]interface{}{
			"losses": []interface{}{
				[]interface{}{0.2},
				[]interface{}{0.2},
			},
		},
	})
	require.NoError(t, err)
	assert.Equal(t, 0, res.Index)
}

func TestTuneEmptyGrid(t *testing.T) {
	d := testDispatcher([]int{0})
	_, err := Tune(context.Background(), d, TuneRequest{
		Task:      "t",
		Algorithm: "a",
		Options:   map[string]interface{}{"losses": []interface{}{}},
	})
	assert.Error(t, err)
}
