package xslices

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMap(t *testing.T) {
	assert.Equal(t, []float64{1, 2.5}, Map([]float32{1, 2.5}, func(v float32) float64 { return float64(v) }))
	assert.Empty(t, Map([]int{}, func(v int) string { return "" }))
}

func TestSortedKeys(t *testing.T) {
	assert.Equal(t, []string{"a", "b", "c"}, SortedKeys(map[string]int{"c": 1, "a": 2, "b": 3}))
}
