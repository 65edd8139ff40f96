// Package engine implements an HTTP/1.1 and HTTP/2 protocol core: given a
// duplex Transport and a Service, ServeConn drives either wire protocol
// (auto-detected from the connection's opening bytes) against that
// service, and Client/DialH1/DialH2 drive the same protocols from the
// client side.
//
// The core owns no sockets, TLS, DNS, or connection pooling; callers
// supply a Transport (most commonly a thin wrapper around a net.Conn) and
// the core handles parsing, framing, flow control, keep-alive, and
// protocol upgrades.
package engine
