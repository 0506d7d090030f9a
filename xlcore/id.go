package xlcore

import "github.com/google/uuid"

// newCorrelationID returns a fresh random identifier used to tie a
// structured log line back to the Error instance that produced it. It
// carries no format guarantees beyond "unique enough to grep for".
func newCorrelationID() string {
	return uuid.NewString()
}
