package model

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// Position is a store-global, monotonically non-decreasing marker. All
// events committed in the same transaction share the same Value; InTxOrder
// disambiguates them. Value is a decimal rather than a float because
// equality on tied positions is load-bearing for ordering correctness
// under concurrent writers.
type Position struct {
	Value    decimal.Decimal
	InTxOrder int64
}

// ZeroPosition is the position before any event has ever been committed.
func ZeroPosition() Position {
	return Position{Value: decimal.Zero, InTxOrder: 0}
}

// IsZero reports whether p is the zero position.
func (p Position) IsZero() bool {
	return p.Value.IsZero() && p.InTxOrder == 0
}

// Compare returns -1, 0 or 1 following the total order lexicographic on
// (Value, InTxOrder).
func (p Position) Compare(other Position) int {
	if c := p.Value.Cmp(other.Value); c != 0 {
		return c
	}
	if p.InTxOrder < other.InTxOrder {
		return -1
	}
	if p.InTxOrder > other.InTxOrder {
		return 1
	}
	return 0
}

// After reports whether p comes strictly after other in the total order.
func (p Position) After(other Position) bool {
	return p.Compare(other) > 0
}

// Before reports whether p comes strictly before other in the total order.
func (p Position) Before(other Position) bool {
	return p.Compare(other) < 0
}

func (p Position) String() string {
	return fmt.Sprintf("%s.%d", p.Value.String(), p.InTxOrder)
}
