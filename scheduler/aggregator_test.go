package scheduler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAggregatorParsesFinalLine(t *testing.T) {
	a := newAggregator(1)
	stdout := []byte("epoch 1 done\nepoch 2 done\n{\"output\": {\"val_loss\": [0.4, 0.2]}, \"option\": {\"lr\": 0.1}}\n")
	require.NoError(t, a.add(0, stdout))

	rec := a.results()[0]
	require.NotNil(t, rec)
	seq, err := rec.ValLoss()
	require.NoError(t, err)
	assert.Equal(t, []float64{0.4, 0.2}, seq)
	assert.Equal(t, 0.1, rec.Options["lr"])
}

func TestAggregatorRejectsGarbage(t *testing.T) {
	a := newAggregator(1)
	assert.Error(t, a.add(0, nil))
	assert.Error(t, a.add(0, []byte("no json here")))
}

func TestValLossMissing(t *testing.T) {
	rec := &Record{Output: map[string]interface{}{"loss": []interface{}{1.0}}}
	_, err := rec.ValLoss()
	assert.Error(t, err)
}

func TestBestRecordGlobalMinimum(t *testing.T) {
	records := []*Record{
		{Output: map[string]interface{}{"val_loss": []interface{}{0.9, 0.5, 0.6}}},
		{Output: map[string]interface{}{"val_loss": []interface{}{0.8, 0.3, 0.4}}},
		// Early-stopped run: shorter sequence, not an error.
		{Output: map[string]interface{}{"val_loss": []interface{}{0.7}}},
	}
	best, err := BestRecord(records)
	require.NoError(t, err)
	assert.Equal(t, 1, best.Index)
	assert.Equal(t, 1, best.Round)
	assert.Equal(t, 0.3, best.ValLoss)
}

func TestBestRecordTieGoesToFirstSubmitted(t *testing.T) {
	records := []*Record{
		{Output: map[string]interface{}{"val_loss": []interface{}{0.5}}},
		{Output: map[string]interface{}{"val_loss": []interface{}{0.5}}},
	}
	best, err := BestRecord(records)
	require.NoError(t, err)
	assert.Equal(t, 0, best.Index)
}

// A val_loss that is present but does not decode must fail the scan rather
// than silently dropping that record from contention.
func TestBestRecordUndecodableValLoss(t *testing.T) {
	records := []*Record{
		{Output: map[string]interface{}{"val_loss": []interface{}{0.5}}},
		{Output: map[string]interface{}{"val_loss": "oops"}},
	}
	_, err := BestRecord(records)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "record 1")
}

func TestBestRecordNoValLoss(t *testing.T) {
	records := []*Record{
		{Output: map[string]interface{}{"acc": []interface{}{0.5}}},
		nil,
	}
	_, err := BestRecord(records)
	assert.Error(t, err)
}
