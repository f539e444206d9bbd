package model

import "time"

// Filter is an optional-valued selector; every non-nil field narrows the
// result set conjunctively.
type Filter struct {
	AggregateTypes []string
	AggregateIDs   []string
	EventTypes     []string
	InstanceID     *string
	Owner          *string
	Creator        *string
	CreatedAtFrom  *time.Time
	CreatedAtTo    *time.Time

	// Position acts as a greater-or-equal-than anchor when set.
	Position *Position

	Limit int
	Desc  bool
}

// SearchQuery is a union (OR-semantics) of Filters with an optional
// exclusion filter and a global limit/direction.
type SearchQuery struct {
	Filters   []Filter
	Exclude   *Filter
	Limit     int
	Desc      bool
}
