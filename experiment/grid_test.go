package experiment

import (
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandGridOrder(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{
		"lr":         []interface{}{0.1, 0.01},
		"num_rounds": 20,
		"batch":      []interface{}{8, 16},
	})
	// Names sort to [batch, lr, num_rounds]; the last varies fastest, so
	// num_rounds (a scalar) is constant, lr cycles within each batch value.
	require.Len(t, combos, 4)
	assert.Equal(t, map[string]interface{}{"batch": 8, "lr": 0.1, "num_rounds": 20}, combos[0])
	assert.Equal(t, map[string]interface{}{"batch": 8, "lr": 0.01, "num_rounds": 20}, combos[1])
	assert.Equal(t, map[string]interface{}{"batch": 16, "lr": 0.1, "num_rounds": 20}, combos[2])
	assert.Equal(t, map[string]interface{}{"batch": 16, "lr": 0.01, "num_rounds": 20}, combos[3])
}

func TestExpandGridScalarsOnly(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{"lr": 0.1, "name": "mnist"})
	require.Len(t, combos, 1)
	assert.Equal(t, map[string]interface{}{"lr": 0.1, "name": "mnist"}, combos[0])
}

func TestExpandGridNoOptions(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{})
	require.Len(t, combos, 1)
	assert.Empty(t, combos[0])
}

func TestExpandGridEmptyList(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{
		"lr": []interface{}{},
		"n":  3,
	})
	assert.Nil(t, combos)
}

func TestExpandGridStringIsScalar(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{"name": "cifar10"})
	require.Len(t, combos, 1)
	assert.Equal(t, "cifar10", combos[0]["name"])
}

func TestExpandGridTypedSlices(t *testing.T) {
	combos := ExpandGrid(map[string]interface{}{"lr": []float64{0.1, 0.2, 0.3}})
	require.Len(t, combos, 3)
	assert.Equal(t, 0.2, combos[1]["lr"])
}

func TestExpandGridProperties(t *testing.T) {
	params := gopter.DefaultTestParameters()
	params.MinSuccessfulTests = 100
	// Cap generated slice lengths so the SuchThat(len <= 5) filter below
	// doesn't discard enough samples for gopter to give up.
	params.MaxSize = 5
	properties := gopter.NewProperties(params)

	// Each generated int is a list length; option k<i> gets the distinct
	// values 0..len-1.
	genLens := gen.SliceOf(gen.IntRange(1, 4)).SuchThat(func(lens []int) bool {
		return len(lens) <= 5
	})
	buildOptions := func(lens []int) map[string]interface{} {
		options := make(map[string]interface{}, len(lens))
		for i, n := range lens {
			vals := make([]interface{}, n)
			for j := range vals {
				vals[j] = j
			}
			options[fmt.Sprintf("k%d", i)] = vals
		}
		return options
	}

	properties.Property("combination count is the product of list lengths",
		prop.ForAll(func(lens []int) bool {
			want := 1
			for _, n := range lens {
				want *= n
			}
			return len(ExpandGrid(buildOptions(lens))) == want
		}, genLens))

	properties.Property("every combination carries every option name",
		prop.ForAll(func(lens []int) bool {
			for _, combo := range ExpandGrid(buildOptions(lens)) {
				if len(combo) != len(lens) {
					return false
				}
			}
			return true
		}, genLens))

	properties.Property("combinations are pairwise distinct",
		prop.ForAll(func(lens []int) bool {
			seen := map[string]bool{}
			for _, combo := range ExpandGrid(buildOptions(lens)) {
				key := fmt.Sprintf("%v", combo)
				if seen[key] {
					return false
				}
				seen[key] = true
			}
			return true
		}, genLens))

	properties.TestingRun(t)
}
