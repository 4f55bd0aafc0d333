/*
Package rpc builds the operation bodies of NETCONF <rpc> requests.

Each operation is a passive record: the caller constructs it, the
session layer serializes it into the <rpc> envelope and sends it. The
serialization is deterministic, so identical records always produce
identical wire bytes.
*/
package rpc
