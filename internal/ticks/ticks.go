// Package ticks converts the broker's com.microsoft:locked-until-utc
// property, a .NET DateTime tick count, to and from time.Time.
package ticks

import "time"

// unixEpochTicks is the .NET tick count of 1970-01-01T00:00:00Z; .NET
// ticks count from 0001-01-01T00:00:00Z.
const unixEpochTicks = int64(621355968000000000)

// perSecond is the number of .NET ticks (100ns units) in one second.
const perSecond = int64(time.Second / 100)

// ToTime converts a .NET tick count into a UTC time.Time. A tick value of 0
// is treated as "unknown" and maps to the zero Unix epoch.
func ToTime(t int64) time.Time {
	if t == 0 {
		return time.Unix(0, 0).UTC()
	}
	u := t - unixEpochTicks
	return time.Unix(u/perSecond, (u%perSecond)*100).UTC()
}

// FromTime converts a UTC time.Time into a .NET tick count.
func FromTime(t time.Time) int64 {
	return unixEpochTicks + t.Unix()*perSecond + int64(t.Nanosecond())/100
}
