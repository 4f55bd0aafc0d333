/*
Package session implements the NETCONF session state machine.

A Session is a long-lived bidirectional conversation with a peer over
a transport.Transport. It owns capability negotiation, the framing
mode, request/reply correlation and orderly teardown.

Sessions move forward through four states: starting (transport
attached, hello exchange pending), running (RPC traffic permitted),
closing (teardown in progress) and invalid (terminal). The transport
mutex serializes whole-message reads and writes, and is shared by all
sessions multiplexed over one SSH connection.

Client sessions send RPCs with SendRPC and collect replies with
RecvReply, which steers misordered replies and interleaved
notifications into per-session FIFO queues. Server sessions read RPCs
with ReadMessage and answer with SendReply; the server package drives
them from a poll set.
*/
package session
