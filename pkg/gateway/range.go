package gateway

import (
	"errors"

	"github.com/siteforge/wttpd/pkg/types"
)

// ErrRangeNotSatisfiable reports a range that cannot be resolved against
// the resource, surfaced to callers as status 416.
var ErrRangeNotSatisfiable = errors.New("range not satisfiable")

// ResolveRange turns a request range into absolute [start, end) offsets
// against a resource of the given total length. A negative axis counts
// from the end, End == 0 means "to the end". partial reports whether the
// resolved window is a strict subset of [0, total).
func ResolveRange(r types.Range, total int64) (start, end int64, partial bool, err error) {
	start = r.Start
	if start < 0 {
		start = total + start
		if start < 0 {
			return 0, 0, false, ErrRangeNotSatisfiable
		}
	}

	end = r.End
	switch {
	case end == 0:
		end = total
	case end < 0:
		end = total + end
		if end < 0 {
			return 0, 0, false, ErrRangeNotSatisfiable
		}
	}

	if start > end || end > total {
		return 0, 0, false, ErrRangeNotSatisfiable
	}
	return start, end, start != 0 || end != total, nil
}

// window copies [start, end) out of a chunked body. sizes holds the byte
// length of every chunk in list order; read fetches one chunk's bytes and
// is only called for chunks overlapping the window.
func window(sizes []int64, start, end int64, read func(i int) ([]byte, error)) ([]byte, error) {
	out := make([]byte, 0, end-start)
	var offset int64
	for i, size := range sizes {
		if offset >= end {
			break
		}
		next := offset + size
		if next <= start {
			offset = next
			continue
		}

		data, err := read(i)
		if err != nil {
			return nil, err
		}
		lo := int64(0)
		if start > offset {
			lo = start - offset
		}
		hi := size
		if end < next {
			hi = end - offset
		}
		out = append(out, data[lo:hi]...)
		offset = next
	}
	return out, nil
}
