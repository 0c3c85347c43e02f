package port

import "time"

// Clock supplies the current time so deadlines can be tested
type Clock interface {
	Now() time.Time
}

// RealClock reads the system clock in UTC
type RealClock struct{}

// NewRealClock returns the system clock
func NewRealClock() Clock { return RealClock{} }

func (RealClock) Now() time.Time { return time.Now().UTC() }
