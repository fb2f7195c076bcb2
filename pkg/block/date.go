package block

import (
	"fmt"
	"time"
)

// DateSize is the length of an encoded pod date.
const DateSize = 5

// EncodeDate packs t as the pod's MM DD YY HH mm wall clock bytes. Years
// count from 2000.
func EncodeDate(t time.Time) []byte {
	return []byte{
		byte(t.Month()),
		byte(t.Day()),
		byte(t.Year() - 2000),
		byte(t.Hour()),
		byte(t.Minute()),
	}
}

// DecodeDate unpacks an encoded pod date as UTC wall clock time.
func DecodeDate(t Type, b []byte) (time.Time, error) {
	if len(b) < DateSize {
		return time.Time{}, fmt.Errorf("%s: %w: date", t, ErrNotEnoughData)
	}
	month, day, year, hour, minute := int(b[0]), int(b[1]), int(b[2]), int(b[3]), int(b[4])
	if month < 1 || month > 12 {
		return time.Time{}, &ParseError{Block: t, Field: "month", Value: month}
	}
	if day < 1 || day > 31 {
		return time.Time{}, &ParseError{Block: t, Field: "day", Value: day}
	}
	if hour > 23 {
		return time.Time{}, &ParseError{Block: t, Field: "hour", Value: hour}
	}
	if minute > 59 {
		return time.Time{}, &ParseError{Block: t, Field: "minute", Value: minute}
	}
	return time.Date(2000+year, time.Month(month), day, hour, minute, 0, 0, time.UTC), nil
}
