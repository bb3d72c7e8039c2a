package chrono

import "time"

type API interface {
	Now() time.Time
}

type StandardImpl struct{}

func (StandardImpl) Now() time.Time {
	return time.Now()
}

// FixedImpl always returns the same instant, for tests.
type FixedImpl struct {
	At time.Time
}

func (f FixedImpl) Now() time.Time {
	return f.At
}
