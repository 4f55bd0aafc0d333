/*
Package ncerr defines the error surface of the NETCONF core.

Two families live here: the sentinel error kinds returned by the
session, message and server layers (compare with errors.Is), and the
RFC6241 <rpc-error> document model used in server replies.
*/
package ncerr
