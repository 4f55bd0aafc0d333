package rpc

import (
	"bytes"
	"encoding/xml"
	"strconv"
)

// Operation is a NETCONF operation record, serializable into the body
// of an <rpc> envelope.
type Operation interface {
	// MarshalRPC returns the operation's XML body.
	MarshalRPC() string
}

// Datastore names a configuration datastore target or source.
type Datastore struct {
	name string
	url  string
}

// Running is the running configuration datastore.
func Running() Datastore { return Datastore{name: "running"} }

// Candidate is the candidate configuration datastore.
func Candidate() Datastore { return Datastore{name: "candidate"} }

// Startup is the startup configuration datastore.
func Startup() Datastore { return Datastore{name: "startup"} }

// URL is a datastore addressed by URL, for servers advertising the
// :url capability.
func URL(u string) Datastore { return Datastore{url: u} }

func (d Datastore) xml() string {
	if d.url != "" {
		var b bytes.Buffer
		b.WriteString("<url>")
		xml.EscapeText(&b, []byte(d.url))
		b.WriteString("</url>")
		return b.String()
	}
	if d.name == "" {
		return "<running/>"
	}
	return "<" + d.name + "/>"
}

// Filter selects a subset of data in <get> and <get-config> requests.
type Filter struct {
	// Type is "subtree" or "xpath".
	Type string
	// Select is the xpath select expression (xpath filters only).
	Select string
	// Subtree is the literal subtree filter content (subtree filters only).
	Subtree string
}

func (f *Filter) xml() string {
	if f == nil {
		return ""
	}
	var b bytes.Buffer
	b.WriteString(`<filter type="`)
	xml.EscapeText(&b, []byte(f.Type))
	b.WriteString(`"`)
	if f.Type == "xpath" {
		b.WriteString(` select="`)
		xml.EscapeText(&b, []byte(f.Select))
		b.WriteString(`"/>`)
		return b.String()
	}
	b.WriteString(">")
	b.WriteString(f.Subtree)
	b.WriteString("</filter>")
	return b.String()
}

// Generic carries a caller-provided operation body verbatim.
type Generic struct {
	Body string
}

func (r Generic) MarshalRPC() string { return r.Body }

// GetConfig is the <get-config> operation.
type GetConfig struct {
	Source       Datastore
	Filter       *Filter
	WithDefaults string
}

func (r GetConfig) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<get-config><source>")
	b.WriteString(r.Source.xml())
	b.WriteString("</source>")
	b.WriteString(r.Filter.xml())
	writeWithDefaults(&b, r.WithDefaults)
	b.WriteString("</get-config>")
	return b.String()
}

// Get is the <get> operation.
type Get struct {
	Filter       *Filter
	WithDefaults string
}

func (r Get) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<get>")
	b.WriteString(r.Filter.xml())
	writeWithDefaults(&b, r.WithDefaults)
	b.WriteString("</get>")
	s := b.String()
	if s == "<get></get>" {
		return "<get/>"
	}
	return s
}

// EditConfig is the <edit-config> operation.
type EditConfig struct {
	Target Datastore
	// DefaultOperation is one of "merge", "replace", "none" or empty.
	DefaultOperation string
	// TestOption is one of "test-then-set", "set", "test-only" or empty.
	TestOption string
	// ErrorOption is one of "stop-on-error", "continue-on-error",
	// "rollback-on-error" or empty.
	ErrorOption string
	// Config is the <config> element content.
	Config string
}

func (r EditConfig) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<edit-config><target>")
	b.WriteString(r.Target.xml())
	b.WriteString("</target>")
	writeOptional(&b, "default-operation", r.DefaultOperation)
	writeOptional(&b, "test-option", r.TestOption)
	writeOptional(&b, "error-option", r.ErrorOption)
	b.WriteString("<config>")
	b.WriteString(r.Config)
	b.WriteString("</config></edit-config>")
	return b.String()
}

// CopyConfig is the <copy-config> operation.
type CopyConfig struct {
	Target Datastore
	Source Datastore
}

func (r CopyConfig) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<copy-config><target>")
	b.WriteString(r.Target.xml())
	b.WriteString("</target><source>")
	b.WriteString(r.Source.xml())
	b.WriteString("</source></copy-config>")
	return b.String()
}

// DeleteConfig is the <delete-config> operation.
type DeleteConfig struct {
	Target Datastore
}

func (r DeleteConfig) MarshalRPC() string {
	return "<delete-config><target>" + r.Target.xml() + "</target></delete-config>"
}

// Lock is the <lock> operation.
type Lock struct {
	Target Datastore
}

func (r Lock) MarshalRPC() string {
	return "<lock><target>" + r.Target.xml() + "</target></lock>"
}

// Unlock is the <unlock> operation.
type Unlock struct {
	Target Datastore
}

func (r Unlock) MarshalRPC() string {
	return "<unlock><target>" + r.Target.xml() + "</target></unlock>"
}

// KillSession is the <kill-session> operation.
type KillSession struct {
	SessionID uint32
}

func (r KillSession) MarshalRPC() string {
	return "<kill-session><session-id>" +
		strconv.FormatUint(uint64(r.SessionID), 10) +
		"</session-id></kill-session>"
}

// CloseSession is the <close-session> operation.
type CloseSession struct{}

func (CloseSession) MarshalRPC() string { return "<close-session/>" }

// Commit is the <commit> operation, optionally confirmed.
type Commit struct {
	Confirmed      bool
	ConfirmTimeout uint32 // seconds; 0 omits the element
	Persist        string
	PersistID      string
}

func (r Commit) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<commit>")
	if r.Confirmed {
		b.WriteString("<confirmed/>")
		if r.ConfirmTimeout != 0 {
			b.WriteString("<confirm-timeout>")
			b.WriteString(strconv.FormatUint(uint64(r.ConfirmTimeout), 10))
			b.WriteString("</confirm-timeout>")
		}
		writeOptional(&b, "persist", r.Persist)
	}
	writeOptional(&b, "persist-id", r.PersistID)
	b.WriteString("</commit>")
	s := b.String()
	if s == "<commit></commit>" {
		return "<commit/>"
	}
	return s
}

// DiscardChanges is the <discard-changes> operation.
type DiscardChanges struct{}

func (DiscardChanges) MarshalRPC() string { return "<discard-changes/>" }

// CancelCommit is the <cancel-commit> operation.
type CancelCommit struct {
	PersistID string
}

func (r CancelCommit) MarshalRPC() string {
	if r.PersistID == "" {
		return "<cancel-commit/>"
	}
	var b bytes.Buffer
	b.WriteString("<cancel-commit>")
	writeOptional(&b, "persist-id", r.PersistID)
	b.WriteString("</cancel-commit>")
	return b.String()
}

// Validate is the <validate> operation. Exactly one of Source or
// Config should be set.
type Validate struct {
	Source Datastore
	// Config validates inline configuration instead of a datastore.
	Config string
}

func (r Validate) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString("<validate><source>")
	if r.Config != "" {
		b.WriteString("<config>")
		b.WriteString(r.Config)
		b.WriteString("</config>")
	} else {
		b.WriteString(r.Source.xml())
	}
	b.WriteString("</source></validate>")
	return b.String()
}

// GetSchema is the <get-schema> monitoring operation.
type GetSchema struct {
	Identifier string
	Version    string
	Format     string
}

// NSMonitoring is the ietf-netconf-monitoring namespace carrying
// <get-schema>.
const NSMonitoring = "urn:ietf:params:xml:ns:yang:ietf-netconf-monitoring"

func (r GetSchema) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString(`<get-schema xmlns="`)
	b.WriteString(NSMonitoring)
	b.WriteString(`">`)
	writeOptional(&b, "identifier", r.Identifier)
	writeOptional(&b, "version", r.Version)
	writeOptional(&b, "format", r.Format)
	b.WriteString("</get-schema>")
	return b.String()
}

// CreateSubscription is the <create-subscription> notifications
// operation.
type CreateSubscription struct {
	Stream    string
	Filter    *Filter
	StartTime string
	StopTime  string
}

// NSNotificationCap is the RFC5277 namespace carrying
// <create-subscription>.
const NSNotificationCap = "urn:ietf:params:xml:ns:netconf:notification:1.0"

func (r CreateSubscription) MarshalRPC() string {
	var b bytes.Buffer
	b.WriteString(`<create-subscription xmlns="`)
	b.WriteString(NSNotificationCap)
	b.WriteString(`">`)
	writeOptional(&b, "stream", r.Stream)
	b.WriteString(r.Filter.xml())
	writeOptional(&b, "startTime", r.StartTime)
	writeOptional(&b, "stopTime", r.StopTime)
	b.WriteString("</create-subscription>")
	return b.String()
}

func writeOptional(b *bytes.Buffer, element, value string) {
	if value == "" {
		return
	}
	b.WriteString("<" + element + ">")
	xml.EscapeText(b, []byte(value))
	b.WriteString("</" + element + ">")
}

func writeWithDefaults(b *bytes.Buffer, mode string) {
	if mode == "" {
		return
	}
	b.WriteString(`<with-defaults xmlns="urn:ietf:params:xml:ns:yang:ietf-netconf-with-defaults">`)
	xml.EscapeText(b, []byte(mode))
	b.WriteString("</with-defaults>")
}
