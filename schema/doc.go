/*
Package schema holds the handle to an external XML/YANG schema
context shared by NETCONF sessions.

Schema validation and data-tree construction are delegated to an
external library; the Context here records the schema search path
used to answer <get-schema> requests and whether the handle is shared
between sessions.
*/
package schema
