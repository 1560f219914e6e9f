package tracker

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		previous Status
		inStock  bool
		expected Transition
	}{
		{StatusUnknown, true, TransitionNone},
		{StatusUnknown, false, TransitionNone},
		{StatusOutOfStock, true, TransitionBecameInStock},
		{StatusOutOfStock, false, TransitionNone},
		{StatusInStock, false, TransitionBecameOutOfStock},
		{StatusInStock, true, TransitionNone},
	}
	for _, c := range cases {
		require.Equal(t, c.expected, Classify(c.previous, c.inStock), "%s -> %v", c.previous, c.inStock)
	}
}

// walking any sequence of observations, a restock is reported exactly at each
// adjacent out -> in pair
func TestClassifySequence(t *testing.T) {
	sequences := [][]bool{
		{true, true, false, true, false, false, true},
		{false, false, false},
		{true, false, true},
		{false, true, true, false, true},
	}
	for _, seq := range sequences {
		status := StatusUnknown
		restocks := 0
		expected := 0
		for i, inStock := range seq {
			if i > 0 && !seq[i-1] && inStock {
				expected++
			}
			if Classify(status, inStock) == TransitionBecameInStock {
				restocks++
			}
			status = StatusOf(inStock)
		}
		require.Equal(t, expected, restocks, "%v", seq)
	}
}

func TestParseStatus(t *testing.T) {
	status, err := ParseStatus("in")
	require.NoError(t, err)
	require.Equal(t, StatusInStock, status)

	status, err = ParseStatus("out_of_stock")
	require.NoError(t, err)
	require.Equal(t, StatusOutOfStock, status)

	_, err = ParseStatus("maybe")
	require.Error(t, err)
}
