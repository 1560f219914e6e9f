package tracker

import (
	"fmt"
	"time"
)

// Status is the last known stock status of a product.
type Status string

const (
	StatusUnknown    Status = "unknown"
	StatusInStock    Status = "in_stock"
	StatusOutOfStock Status = "out_of_stock"
)

// ParseStatus accepts the persisted names plus the short forms an operator would type.
func ParseStatus(value string) (Status, error) {
	switch value {
	case "unknown":
		return StatusUnknown, nil
	case "in_stock", "in", "in-stock":
		return StatusInStock, nil
	case "out_of_stock", "out", "out-of-stock":
		return StatusOutOfStock, nil
	}
	return "", fmt.Errorf("unknown status '%s'", value)
}

// StatusOf returns the status an observed stock signal corresponds to.
func StatusOf(inStock bool) Status {
	if inStock {
		return StatusInStock
	}
	return StatusOutOfStock
}

// Transition is the classified change between two consecutive successful observations.
type Transition string

const (
	TransitionNone             Transition = "none"
	TransitionBecameInStock    Transition = "became_in_stock"
	TransitionBecameOutOfStock Transition = "became_out_of_stock"
)

// Classify compares a new stock signal against the previous status.
//
// An unknown previous status only establishes a baseline, it never produces a
// transition.
func Classify(previous Status, inStock bool) Transition {
	switch previous {
	case StatusOutOfStock:
		if inStock {
			return TransitionBecameInStock
		}
	case StatusInStock:
		if !inStock {
			return TransitionBecameOutOfStock
		}
	}
	return TransitionNone
}

// Observation is the transient result of one fetch and extract of a product.
type Observation struct {
	ProductID string
	InStock   bool
	At        time.Time
	Strategy  string
	// Err is set when fetching or extracting failed, failed observations are
	// never classified.
	Err error
}

func (o Observation) Ok() bool {
	return o.Err == nil
}
