// Package ordering assigns and rebalances the fractional rule indexes that
// keep a tenant's rules in a strict total order. Appends advance by a fixed
// gap, moves bisect the gap between the drop target's neighbors, so any
// insert or move touches exactly one row.
package ordering

import "errors"

const (
	// Gap is the index increment used when appending with no upper neighbor.
	Gap = 100.0
	// MinGap is the smallest neighbor distance the key space will bisect.
	// Below it the midpoint is no longer reliably strictly between the
	// neighbors and the tenant needs a rebalance.
	MinGap = 1e-9
)

var (
	ErrPrecisionExhausted = errors.New("gap between neighbor keys too small to bisect")
	ErrInvertedNeighbors  = errors.New("before key is not below after key")
	ErrNonPositive        = errors.New("computed key is not positive")
	ErrNoReference        = errors.New("no reference keys given")
)

// Between computes a key strictly between two neighbor keys. Either neighbor
// may be nil: only before means appending after it, only after means
// inserting at the head. A head insert below a key that is itself at or below
// the smallest valid position is rejected rather than clamped negative.
func Between(before, after *float64) (float64, error) {
	switch {
	case before != nil && after != nil:
		if *before >= *after {
			return 0, ErrInvertedNeighbors
		}
		if *after-*before < MinGap {
			return 0, ErrPrecisionExhausted
		}
		mid := (*before + *after) / 2
		if mid <= 0 {
			return 0, ErrNonPositive
		}
		return mid, nil

	case before != nil:
		key := *before + Gap
		if key <= 0 {
			return 0, ErrNonPositive
		}
		return key, nil

	case after != nil:
		if *after <= 0 {
			return 0, ErrNonPositive
		}
		if *after <= MinGap {
			return 0, ErrPrecisionExhausted
		}
		if *after > Gap {
			return *after - Gap, nil
		}
		return *after / 2, nil

	default:
		return 0, ErrNoReference
	}
}

// Append returns the key for a rule added with no position reference.
// hasMax reports whether the tenant already holds any rule.
func Append(maxKey float64, hasMax bool) float64 {
	if !hasMax {
		return Gap
	}
	return maxKey + Gap
}
