// Package calendar resolves business-day and holiday rules.
//
// A [Calendar] has a weekly business-day mask and a list of exact holiday
// dates, both evaluated in the calendar's time zone. [IsBusinessDay],
// [NextBusinessInstant] and [RollForward] are pure functions over calendar
// data. The [Service] adds persistence and a read-through cache that is
// invalidated whenever a calendar is updated or deleted.
//
// An unknown calendar key is a configuration error: lookups return a
// cadence.NotFoundError and never fall back to a default calendar.
package calendar
