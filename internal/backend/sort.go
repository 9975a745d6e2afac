package backend

import (
	"cmp"
	"slices"
	"time"
)

// SortRows orders rows in place by the given columns, stable for ties.
func SortRows(rows []Row, order []Order) {
	if len(order) == 0 {
		return
	}
	slices.SortStableFunc(rows, func(a, b Row) int {
		for _, o := range order {
			c := compareValues(a[o.Column], b[o.Column])
			if c == 0 {
				continue
			}
			if o.Descending {
				return -c
			}
			return c
		}
		return 0
	})
}

func compareValues(a, b any) int {
	switch av := a.(type) {
	case time.Time:
		if bv, ok := b.(time.Time); ok {
			return av.Compare(bv)
		}
	case bool:
		if bv, ok := b.(bool); ok {
			switch {
			case av == bv:
				return 0
			case !av:
				return -1
			default:
				return 1
			}
		}
	case int64:
		if bv, ok := b.(int64); ok {
			return cmp.Compare(av, bv)
		}
	case float64:
		if bv, ok := b.(float64); ok {
			return cmp.Compare(av, bv)
		}
	}
	return cmp.Compare(stringify(a), stringify(b))
}
