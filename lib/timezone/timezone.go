package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("America/Chicago")
	if err != nil {
		panic(err)
	}
}

// the portal renders every calendar page in the club's local timezone,
// so all date math has to happen there regardless of where the server runs
func Now() time.Time {
	return time.Now().In(Location)
}

// start of the day containing t, in the club's timezone
func StartOfDay(t time.Time) time.Time {
	t = t.In(Location)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, Location)
}
