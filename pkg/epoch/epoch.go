// Package epoch converts the fixed-point date counters stored on cards
// (days, minutes or seconds elapsed since a format-specific reference year)
// into calendar instants and back.
//
// A count of zero designates the last day of the year preceding StartYear:
// a day counter with StartYear 1992 reads 0 as 1991-12-31 and 1 as
// 1992-01-01. Negative counts are legal and simply land before that day.
// All instants are UTC; the cards carry no zone information.
package epoch

import (
	"fmt"
	"time"
)

// Unit is the duration of one tick of a counter.
type Unit time.Duration

const (
	Second = Unit(time.Second)
	Minute = Unit(time.Minute)
	Day    = Unit(24 * time.Hour)
)

func (u Unit) String() string {
	switch u {
	case Second:
		return "second"
	case Minute:
		return "minute"
	case Day:
		return "day"
	}
	return time.Duration(u).String()
}

// Epoch describes one counter encoding. Offset shifts the reference
// instant, for formats whose counters start on Jan 1st rather than Dec 31st.
type Epoch struct {
	StartYear int
	Unit      Unit
	Offset    time.Duration
}

// Days, Minutes and Seconds build the plain epochs used by most formats.
func Days(year int) Epoch { return Epoch{StartYear: year, Unit: Day} }
func Minutes(year int) Epoch { return Epoch{StartYear: year, Unit: Minute} }
func Seconds(year int) Epoch { return Epoch{StartYear: year, Unit: Second} }

// Base is the instant a zero count decodes to.
func (e Epoch) Base() time.Time {
	return time.Date(e.StartYear-1, time.December, 31, 0, 0, 0, 0, time.UTC).Add(e.Offset)
}

func (e Epoch) String() string {
	s := fmt.Sprintf("%ss since %d", e.Unit, e.StartYear)
	if e.Offset != 0 {
		s += fmt.Sprintf(" %+v", e.Offset)
	}
	return s
}

// ToDateTime decodes a raw counter value.
func ToDateTime(count int64, e Epoch) time.Time {
	return time.Unix(e.Base().Unix()+count*e.Unit.seconds(), 0).UTC()
}

// ToRawCount is the inverse of ToDateTime, truncating toward the earlier
// tick when t does not fall on a tick boundary.
func ToRawCount(t time.Time, e Epoch) int64 {
	d := t.Unix() - e.Base().Unix()
	u := e.Unit.seconds()
	n := d / u
	if d%u < 0 {
		n--
	}
	return n
}

// Counters never tick faster than once a second.
func (u Unit) seconds() int64 {
	s := int64(time.Duration(u) / time.Second)
	if s < 1 {
		return 1
	}
	return s
}
