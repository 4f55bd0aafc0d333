/*
Package transport provides the NETCONF byte-stream layer.

A Transport is a uniform read/write/poll surface over a raw descriptor
pair, an SSH channel subsystem or a TLS connection. PollReadable is the
only operation permitted to wait; reads and writes block only for the
bytes of the message in flight.

The Reader and Writer types layer RFC6242 framing over a Transport,
producing and consuming whole NETCONF messages. Both start in
end-of-message (:base:1.0) mode and are switched to chunked framing
after capability exchange selects :base:1.1.
*/
package transport
