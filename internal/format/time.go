package format

import "time"

// filetimeEpochDelta is the number of 100ns intervals between the FILETIME
// epoch (1601-01-01) and the Unix epoch (1970-01-01).
const filetimeEpochDelta = 116444736000000000

// FiletimeToTime converts a Windows FILETIME (100ns intervals since
// 1601-01-01 UTC) to a time.Time. A zero FILETIME converts to the zero
// time.Time rather than 1601, so callers can use IsZero naturally.
func FiletimeToTime(ft uint64) time.Time {
	if ft == 0 {
		return time.Time{}
	}
	ticks := int64(ft) - filetimeEpochDelta
	secs := ticks / 10_000_000
	nanos := (ticks % 10_000_000) * 100
	return time.Unix(secs, nanos).UTC()
}
