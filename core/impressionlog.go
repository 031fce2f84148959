package core

import "slices"

// ImpressionLog is an append-only sequence of records that can be trimmed to
// a trailing window.
type ImpressionLog struct {
	records []*ImpressionOpportunity
}

func NewImpressionLog() *ImpressionLog {
	return &ImpressionLog{}
}

func (l *ImpressionLog) Append(o *ImpressionOpportunity) {
	l.records = append(l.records, o)
}

func (l *ImpressionLog) Len() int {
	return len(l.records)
}

// At returns the i-th record, oldest first.
func (l *ImpressionLog) At(i int) *ImpressionOpportunity {
	return l.records[i]
}

// Last returns the most recent record, or nil when the log is empty.
func (l *ImpressionLog) Last() *ImpressionOpportunity {
	if len(l.records) == 0 {
		return nil
	}
	return l.records[len(l.records)-1]
}

// DropLast removes the most recent record. It does nothing on an empty log.
func (l *ImpressionLog) DropLast() {
	n := len(l.records)
	if n == 0 {
		return
	}
	l.records[n-1] = nil
	l.records = l.records[:n-1]
}

// All returns the records oldest first. The slice is a copy; the records are not.
func (l *ImpressionLog) All() []*ImpressionOpportunity {
	out := make([]*ImpressionOpportunity, len(l.records))
	copy(out, l.records)
	return out
}

// Trim keeps only the last window records. A window of 0 empties the log.
// The kept tail is copied into a fresh slice, so the cost is O(window) and the
// dropped records are released with the old backing array.
func (l *ImpressionLog) Trim(window int) {
	n := len(l.records)
	if window <= 0 {
		l.records = nil
		return
	}
	if window >= n {
		return
	}
	l.records = slices.Clone(l.records[n-window:])
}
