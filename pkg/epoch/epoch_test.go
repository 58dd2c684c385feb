package epoch

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func date(y int, m time.Month, d, hh, mm, ss int) time.Time {
	return time.Date(y, m, d, hh, mm, ss, 0, time.UTC)
}

func TestToDateTime(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		count    int64
		epoch    Epoch
		expected time.Time
	}{
		{"Day zero", 0, Days(1992), date(1991, time.December, 31, 0, 0, 0)},
		{"Day one", 1, Days(1992), date(1992, time.January, 1, 0, 0, 0)},
		{"Leap day", 60, Days(1992), date(1992, time.February, 29, 0, 0, 0)},
		{"Negative days", -1, Days(2016), date(2015, time.December, 30, 0, 0, 0)},
		{"Minutes", 1440 + 61, Minutes(2016), date(2016, time.January, 1, 1, 1, 0)},
		{"Seconds", 86400 + 5, Seconds(2019), date(2019, time.January, 1, 0, 0, 5)},
		{"Offset", 0, Epoch{StartYear: 2003, Unit: Minute, Offset: 24 * time.Hour}, date(2003, time.January, 1, 0, 0, 0)},
		{"Custom unit", 3, Epoch{StartYear: 2003, Unit: Unit(8 * time.Minute), Offset: 24 * time.Hour}, date(2003, time.January, 1, 0, 24, 0)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ToDateTime(tt.count, tt.epoch))
		})
	}
}

func TestRoundTrip(t *testing.T) {
	t.Parallel()

	epochs := []Epoch{
		Days(1992), Days(2016), Days(2019),
		Minutes(1992), Minutes(2016), Minutes(2019),
		Seconds(1900), Seconds(2019),
		{StartYear: 2003, Unit: Unit(8 * time.Minute), Offset: 24 * time.Hour},
	}
	counts := []int64{-100000, -1441, -1, 0, 1, 59, 1440, 65535, 1 << 20, 1 << 30}

	for _, e := range epochs {
		for _, c := range counts {
			got := ToRawCount(ToDateTime(c, e), e)
			assert.Equalf(t, c, got, "%v count %d", e, c)
		}
	}
}

func TestToRawCountTruncates(t *testing.T) {
	t.Parallel()

	e := Minutes(2016)
	assert.Equal(t, int64(0), ToRawCount(date(2015, time.December, 31, 0, 0, 59), e))
	assert.Equal(t, int64(-1), ToRawCount(date(2015, time.December, 30, 23, 59, 30), e))
}
