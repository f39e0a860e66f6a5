// Package goid extracts the id of the calling goroutine.
//
// The runtime does not expose goroutine ids on purpose; the stable
// workaround is parsing the header line of a single-goroutine stack
// dump ("goroutine 42 [running]:"). The parse touches a small
// fixed-size buffer and allocates nothing beyond it.
package goid

import (
	"bytes"
	"runtime"
	"strconv"
)

var prefix = []byte("goroutine ")

// ID returns the id of the calling goroutine.
func ID() uint64 {
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	b := buf[:n]
	if !bytes.HasPrefix(b, prefix) {
		return 0
	}
	b = b[len(prefix):]
	if i := bytes.IndexByte(b, ' '); i > 0 {
		b = b[:i]
	}
	id, err := strconv.ParseUint(string(b), 10, 64)
	if err != nil {
		return 0
	}
	return id
}
