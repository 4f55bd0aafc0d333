/*
Package message produces and consumes whole NETCONF XML messages.

Incoming framed message bodies are parsed into xmlquery document trees
and classified by their top-level element: hello, rpc, rpc-reply or
notification. Outgoing messages are rendered into their envelope with
deterministic byte output, so a given rpc body always produces the
same bytes on the wire.
*/
package message
