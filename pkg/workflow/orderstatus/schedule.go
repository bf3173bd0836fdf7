package orderstatus

import "time"

// Promise day labels shown to the customer.
const (
	LabelFriday        = "Friday"
	LabelEarlyNextWeek = "early next week"
)

// DateLayout is the ISO date format stored in the scratchpad.
const DateLayout = "2006-01-02"

// PromiseDate computes the wait-promise from today's weekday.
//
// Monday through Wednesday promise Friday of the current week;
// Thursday through Sunday promise the next Monday ("early next week").
// The returned date is always strictly in the future, including when
// today is Sunday.
func PromiseDate(today time.Time) (time.Time, string) {
	y, m, d := today.Date()
	day := time.Date(y, m, d, 0, 0, 0, 0, today.Location())

	// Normalize so Monday=0 .. Sunday=6.
	wd := (int(today.Weekday()) + 6) % 7

	if wd <= 2 {
		return day.AddDate(0, 0, 4-wd), LabelFriday
	}

	days := (7 - wd) % 7
	if days == 0 {
		days = 7
	}
	return day.AddDate(0, 0, days), LabelEarlyNextWeek
}
