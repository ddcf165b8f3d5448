// Package results reduces per-shot per-region measurements into one
// averaged value per region.
package results

import (
	"errors"
	"fmt"
	"math"
)

// ErrEmptySession is returned when there are no measurements to
// aggregate.
var ErrEmptySession = errors.New("session has no measurements")

// Average reduces an N-shot measurement matrix to one value per
// region. Rows correspond to shots in capture order, columns to the
// fixed region ids. Each output is the column mean rounded half-up.
func Average(measurements [][]int) ([]int, error) {
	if len(measurements) == 0 {
		return nil, ErrEmptySession
	}

	cols := len(measurements[0])
	for i, row := range measurements {
		if len(row) != cols {
			return nil, fmt.Errorf("row %d has %d values, want %d", i, len(row), cols)
		}
	}

	out := make([]int, cols)
	for c := 0; c < cols; c++ {
		sum := 0
		for _, row := range measurements {
			sum += row[c]
		}
		mean := float64(sum) / float64(len(measurements))
		out[c] = int(math.Floor(mean + 0.5))
	}
	return out, nil
}
