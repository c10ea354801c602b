package clock

import (
	"time"

	"go.uber.org/fx"
)

// Clock abstracts wall time so order and payment timestamps are testable.
type Clock interface {
	Now() time.Time
}

type SystemClock struct{}

func New() Clock {
	return SystemClock{}
}

func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}

var Module = fx.Module("clock",
	fx.Provide(New),
)
