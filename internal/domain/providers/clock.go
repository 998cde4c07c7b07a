package providers

import "time"

// Clock is the source of "now" for the engines
type Clock interface {
	Now() time.Time
}
