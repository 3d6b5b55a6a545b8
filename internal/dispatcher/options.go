package dispatcher

// Option configures handler registration.
type Option func(*options)

type options struct {
	queue    int
	blocking bool
	logged   bool
}

// Buffered runs the handler on its own goroutine behind a queue of size n.
// Dispatch then returns "queued" instead of the handler result.
func Buffered(n int) Option {
	return func(o *options) { o.queue = n }
}

// Blocking makes Dispatch wait for room in a full queue. Without it the
// event is dropped and counted.
func Blocking() Option {
	return func(o *options) { o.blocking = true }
}

// Logged logs each event at debug level and failures at error level.
func Logged() Option {
	return func(o *options) { o.logged = true }
}
