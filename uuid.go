package datamapper

import (
	"sync/atomic"
	"time"
)

var codeStartTime = uint64(time.Now().Unix())
var tokenCounter = uint64(0)

// nextToken returns the opaque identity of an in-memory entity instance.
func nextToken() uint64 {
	return (codeStartTime << 24) + atomic.AddUint64(&tokenCounter, 1)
}
