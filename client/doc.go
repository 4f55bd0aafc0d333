/*
Package client provides the NETCONF client role: dialing servers over
SSH or TLS, opening the netconf channel subsystem, and listening for
call-home connections where the server dials out instead.

An established session is a session.Session with the client role;
RPCs are sent with SendRPC/Execute and replies collected with
RecvReply. Multiple NETCONF sessions may be multiplexed over one SSH
connection through the Conn type.
*/
package client
