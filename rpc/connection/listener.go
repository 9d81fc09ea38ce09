package connection

// ExceptionListener is notified after a pool was torn down because of a fault
// its channels could not recover from. It is called without any pool lock held,
// so it may inspect the pool or call Stop.
type ExceptionListener interface {
	OnFault(pool *Pool, err error)
}

// ExceptionListenerFunc adapts a function to ExceptionListener
type ExceptionListenerFunc func(pool *Pool, err error)

func (f ExceptionListenerFunc) OnFault(pool *Pool, err error) {
	f(pool, err)
}
