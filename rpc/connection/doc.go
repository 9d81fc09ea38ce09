// Package connection implements the connection pool of dConn.
//
// A Pool owns a fixed number of Connections, each bound to one channel for its
// whole lifetime. Unless dedicated channels are configured, all connections of a
// pool share a single channel and multiplex their requests over it.
//
// Callers reserve a connection with Acquire, passing a Token that identifies
// them. A token holds at most one connection, acquiring again with the same
// token returns the connection it already holds. Release hands the connection
// back. Acquire blocks until a connection is free, the reservation timeout
// elapsed or the context is done.
//
// Pool states:
//
//	Initialized -> Connecting -> Connected -> Disconnecting -> Disconnected
//	any state   -> Stopped
//
// A disconnected pool cannot be connected again, build a new one instead.
//
// When a channel hits a fault it cannot recover from (see common.ResendMode),
// its connections report it to the pool. The pool then disconnects every
// connection, reclaims every reservation, ends in Disconnected and finally
// notifies the registered ExceptionListener.
//
// Usage Example:
//
//	channels := base.NewChannelFactory(serializer.NewBinarySerializer(), tcp.NewTCPClientConnector())
//	factory := connection.NewFactory(channels, common.DefaultPoolConfig())
//
//	pool, err := factory.CreatePool("tcp://localhost:8222", connection.KindConventional, nil)
//	if err != nil {
//	  return err
//	}
//	pool.SetExceptionListener(connection.ExceptionListenerFunc(func(p *connection.Pool, err error) {
//	  log.Printf("pool %s failed: %v", p.Name(), err)
//	}))
//	if err := pool.Connect(ctx); err != nil {
//	  return err
//	}
//	defer pool.Stop()
//
//	token := connection.NewToken()
//	conn, err := pool.Acquire(ctx, token)
//	if err != nil {
//	  return err
//	}
//	defer pool.Release(token, conn)
//
//	reply, err := conn.Execute(ctx, common.NewRequest("echo", []byte("hello")))
package connection
