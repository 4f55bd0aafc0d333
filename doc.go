/*
Package netconf is a NETCONF (RFC6241/RFC6242) protocol library
providing both the client and server roles.

Doing the heavy lifting of protocol framing (decoding and encoding),
whole-message splitting and classification, capability exchange and
session dispatch, these libraries allow easy NETCONF client and server
application development.

Sessions run over an arbitrary byte stream: a file descriptor pair, an
SSH channel subsystem (via golang.org/x/crypto/ssh) or a TLS
connection. Both NETCONF 1.0 (end of message) and 1.1 (chunked framing)
protocols are supported, with the framing mode switched automatically
after capability exchange.

Servers multiplex many sessions over a poll set drained by worker
goroutines; the transport acceptors in the server package perform the
SSH or TLS handshake, user authentication and cert-to-name mapping,
handing back fully negotiated sessions. Call home (reverse-direction
establishment) is supported on both sides.

See the session, server and client sub-directories for more
information.
*/
package netconf
