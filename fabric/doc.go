// Package fabric is the backend side of a headlink deployment. Remote heads
// pair with the backend over the connection provider and are each handed a
// dedicated UDP channel for push traffic.
//
// A paired head is represented by a Session. Sessions are addressable: the
// address returned by POST /pair is the key every later request uses.
//
//	POST   /pair                      {"peer_port": N} -> 201 session
//	GET    /sessions                  list sessions
//	GET    /sessions/{address}        one session or 404
//	POST   /sessions/{address}/push   send the body as a datagram, 202
//	DELETE /sessions/{address}        exit the session, 204
//	GET    /health                    status and allocation totals
//	GET    /metrics                   Prometheus text exposition
//	POST   /secrets/{name}            archive a secret
//	GET    /secrets/{name}            read an archived secret
//
// Service implements transport.Handler and is served by a
// transport.ConnectionProvider.
package fabric
