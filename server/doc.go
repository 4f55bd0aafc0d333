/*
Package server provides the NETCONF server role: listening endpoints,
transport handshakes, and the poll set multiplexing established
sessions across worker goroutines.

A Server owns named bind endpoints keyed by (name, transport kind).
Accept waits for an inbound connection on any endpoint, runs the SSH
or TLS handshake including user authentication and cert-to-name
mapping, performs the NETCONF hello exchange and returns a running
session. Sibling NETCONF channels multiplexed over an established SSH
connection surface as additional ready sessions from Accept.

Established sessions are placed in a PollSet. Workers call Poll
concurrently; a rotating scan with a try-lock discipline hands each
ready session to exactly one worker, which reads one rpc, invokes the
server handler and writes the reply.
*/
package server
