package clock

import "time"

// Clock supplies the current time. Injectable so expiry and rotation
// behaviour can be driven by a fixed clock in tests.
type Clock func() time.Time

// System reads the wall clock in UTC.
func System() time.Time {
	return time.Now().UTC()
}

// Bucket maps an instant to its rotation bucket index. Windows under one
// second are floored to one; bucket arithmetic is in whole seconds.
func Bucket(t time.Time, window time.Duration) int64 {
	secs := int64(window.Seconds())
	if secs < 1 {
		secs = 1
	}
	return t.Unix() / secs
}
