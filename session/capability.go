package session

import "strings"

const (
	// CapBase10 selects NETCONF 1.0 end-of-message framing.
	CapBase10 = "urn:ietf:params:netconf:base:1.0"
	// CapBase11 selects NETCONF 1.1 chunked framing.
	CapBase11 = "urn:ietf:params:netconf:base:1.1"
	// CapNotification advertises RFC5277 notification support.
	CapNotification = "urn:ietf:params:netconf:capability:notification:1.0"
	// CapWithDefaultsPrefix prefixes the with-defaults capability and
	// its basic-mode argument.
	CapWithDefaultsPrefix = "urn:ietf:params:netconf:capability:with-defaults:1.0"
)

// Capabilities is a slice of strings denoting NETCONF capability URIs
type Capabilities []string

// Has returns true if uri is in the capabilities set. Any ?argument
// suffix on set members is ignored for the comparison.
func (c Capabilities) Has(uri string) bool {
	uri = strings.SplitN(uri, "?", 2)[0]
	for _, cap := range c {
		if uri == strings.SplitN(cap, "?", 2)[0] {
			return true
		}
	}
	return false
}

// DefaultCapabilities are the capabilities advertised when a session
// Config names none.
func DefaultCapabilities() Capabilities {
	return Capabilities{CapBase10, CapBase11}
}
