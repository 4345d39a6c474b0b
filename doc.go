// Package headlink is the transport and addressing layer of a backend/head
// fabric. A backend pairs with remote heads over a TCP request/response server
// and pushes notifications to each head over a dedicated UDP channel.
//
// The functionality lives in subpackages:
//
//   - [github.com/opd-ai/headlink/address]: opaque fixed-width addresses, the
//     counter-backed Provider that mints them, and the Scope/Handle pair that
//     makes entities addressable.
//   - [github.com/opd-ai/headlink/transport]: the supervised UDPChannel and the
//     ConnectionProvider TCP server with graceful shutdown.
//   - [github.com/opd-ai/headlink/crypto]: SHA-256 and SHA-1 hex digests, the
//     AES helper, the default key holder and the encrypted secret archive.
//   - [github.com/opd-ai/headlink/fabric]: the backend service that pairs heads
//     with UDP channels and serves the HTTP routes.
//   - [github.com/opd-ai/headlink/config]: TOML configuration with fallbacks.
//   - [github.com/opd-ai/headlink/limits]: datagram and request size limits.
//
// The headlinkd command under cmd/ wires everything together.
//
// # Getting Started
//
// Serve the fabric routes on port 12345:
//
//	provider, err := address.NewProvider[uint64](address.WithRandomization(true))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	scope := address.NewScope(provider)
//	defer scope.Close()
//
//	ports, err := fabric.NewPortPool(40000, 40999, "127.0.0.1")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	svc, err := fabric.NewService(scope, ports)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer svc.Close()
//
//	srv, err := transport.NewConnectionProvider(12345, svc)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer srv.Shutdown(context.Background())
package headlink
