package timezone

import "time"

var Location *time.Location

func init() {
	var err error
	Location, err = time.LoadLocation("Europe/Istanbul")
	if err != nil {
		panic(err)
	}
}

// The portal thinks in Turkish wall-clock time: exam periods roll over
// and sessions expire on Istanbul midnights regardless of where our
// servers run, so all timestamps shown to operators use this location.
func Now() time.Time {
	return time.Now().In(Location)
}
