package eventbus

// MainThreadSupport adapts the host platform's main thread. Hosts with
// a designated main goroutine (UI loops, game loops) implement it and
// pass it via WithMainThreadSupport; without it, Main mode handlers run
// inline and MainOrdered falls back to inline delivery.
//
// The mainthread subpackage provides a ready-made implementation backed
// by a runnable loop.
type MainThreadSupport interface {
	// IsMainThread reports whether the calling goroutine is the main
	// thread.
	IsMainThread() bool

	// Post hands a wake-up callback to the main thread. It returns
	// false when the host rejected the callback, e.g. because the
	// loop is stopped or saturated.
	Post(fn func()) bool
}
