package types

// Range selects a window of a resource, on either the byte axis or the
// chunk axis. Negative Start or End count from the end of the content;
// End == 0 means "to the end". The window is half-open: End names the first
// offset past the selection. The zero Range therefore selects everything.
type Range struct {
	Start int64
	End   int64
}

// IsFull reports whether r is the zero range, the conventional request for
// the whole content.
func (r Range) IsFull() bool {
	return r.Start == 0 && r.End == 0
}
