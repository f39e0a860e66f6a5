package mainthread

import "errors"

// ErrAlreadyRunning is returned by Run when the loop is already
// running on another goroutine.
var ErrAlreadyRunning = errors.New("mainthread: loop already running")
