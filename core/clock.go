package core

import "time"

// Clock returns the current time. Services take one so deadline and expiry rules can be tested.
type Clock func() time.Time

func SystemClock() time.Time { return time.Now().UTC() }
