package core

import (
	"testing"

	"github.com/peterldowns/testy/check"
)

func buildLog(n int) *ImpressionLog {
	l := NewImpressionLog()
	for i := 0; i < n; i++ {
		l.Append(NewImpressionOpportunity([]float64{1.0}, i, 1.0, float64(i), 0.1))
	}
	return l
}

func TestImpressionLog_AppendAndLast(t *testing.T) {
	l := NewImpressionLog()
	check.True(t, l.Last() == nil)
	check.Equal(t, 0, l.Len())

	l = buildLog(3)
	check.Equal(t, 3, l.Len())
	check.Equal(t, 2, l.Last().Record().Item)
	check.Equal(t, 0, l.At(0).Record().Item)
}

func TestImpressionLog_Trim(t *testing.T) {
	tests := []struct {
		name          string
		size          int
		window        int
		expectedItems []int
	}{
		{"window zero empties", 5, 0, []int{}},
		{"negative window empties", 5, -1, []int{}},
		{"window larger than log keeps everything", 3, 10, []int{0, 1, 2}},
		{"window equal to log keeps everything", 3, 3, []int{0, 1, 2}},
		{"keeps trailing window", 5, 2, []int{3, 4}},
		{"keeps last one", 5, 1, []int{4}},
		{"empty log", 0, 2, []int{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := buildLog(tt.size)
			l.Trim(tt.window)

			items := make([]int, 0, l.Len())
			for _, o := range l.All() {
				items = append(items, o.Record().Item)
			}
			check.Equal(t, tt.expectedItems, items)
		})
	}
}

func TestImpressionLog_TrimReleasesOldBacking(t *testing.T) {
	l := buildLog(5)
	backing := l.records[:5]

	l.Trim(2)
	check.Equal(t, 2, l.Len())
	check.True(t, &l.records[0] != &backing[3])

	// Writes to the old array no longer reach the log
	backing[3] = nil
	check.Equal(t, 3, l.At(0).Record().Item)
}

func TestImpressionLog_DropLast(t *testing.T) {
	l := buildLog(3)
	l.DropLast()
	check.Equal(t, 2, l.Len())
	check.Equal(t, 1, l.Last().Record().Item)

	empty := NewImpressionLog()
	empty.DropLast()
	check.Equal(t, 0, empty.Len())
}

func TestImpressionLog_AllIsACopy(t *testing.T) {
	l := buildLog(2)
	all := l.All()
	all[0] = nil

	check.True(t, l.At(0) != nil)
}
