// Package transport carries traffic between the backend, the local head and
// remote heads.
//
// # UDP channels
//
// A [UDPChannel] pairs a listen port with a peer's send port for low-latency
// push notifications. Sends are fire-and-forget over a short-lived socket.
// Receiving happens on a supervised background listener:
//
//	ch := transport.NewUDPChannel(40001, 40002)
//	defer ch.Close()
//	ch.Subscribe(func(text string) { fmt.Println(text) })
//	_ = ch.Send("hello")
//
// When the listener fails it is rebuilt on a fresh socket after a backoff
// delay ([RestartPolicy]). After MaxRestarts consecutive failures without a
// datagram received in between, the channel enters [StateFailed], closes
// [UDPChannel.Failed] and logs at error level instead of retrying forever.
//
// # Connection provider
//
// A [ConnectionProvider] accepts TCP connections, decodes HTTP/1.x style
// requests and hands each one to a [Handler], which returns a [Response]:
//
//	srv, err := transport.NewConnectionProvider(12345, transport.HandlerFunc(
//	    func(ctx context.Context, req *transport.Request) transport.Response {
//	        if req.Path != "/" {
//	            return transport.NotFound()
//	        }
//	        return transport.Text(http.StatusOK, "ok")
//	    }))
//	...
//	err = <-srv.SignalCloseServer()
//
// Connections are served concurrently, so handlers must be safe for concurrent
// use. HTTP/1.1 keep-alive is honoured. A failure on one connection never
// stops the accept loop.
//
// Both components stop through a context owned by the instance. Blocking reads
// and accepts poll with a short deadline so they observe cancellation instead
// of relying on the socket being closed underneath them.
package transport
