package message

import (
	"bytes"
	"encoding/xml"
	"strconv"
	"strings"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/ncerr"
)

const (
	// NSBase is the NETCONF base protocol XML namespace.
	NSBase = "urn:ietf:params:xml:ns:netconf:base:1.0"
	// NSNotification is the NETCONF notifications XML namespace.
	NSNotification = "urn:ietf:params:xml:ns:netconf:notification:1.0"
)

// Type classifies a NETCONF message by its top-level element.
type Type int

const (
	// TypeUnknown is any document not recognized as a NETCONF message.
	TypeUnknown Type = iota
	// TypeHello is a <hello> message.
	TypeHello
	// TypeRPC is an <rpc> request.
	TypeRPC
	// TypeReply is an <rpc-reply> response.
	TypeReply
	// TypeNotification is a <notification> event message.
	TypeNotification
)

func (t Type) String() string {
	switch t {
	case TypeHello:
		return "hello"
	case TypeRPC:
		return "rpc"
	case TypeReply:
		return "rpc-reply"
	case TypeNotification:
		return "notification"
	default:
		return "unknown"
	}
}

// Parse parses one whole message body into an XML document tree.
func Parse(body []byte) (*xmlquery.Node, error) {
	doc, err := xmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrMalformed, err.Error())
	}
	return doc, nil
}

// Root returns the document's root element, or nil for an empty
// document.
func Root(doc *xmlquery.Node) *xmlquery.Node {
	for n := doc.FirstChild; n != nil; n = n.NextSibling {
		if n.Type == xmlquery.ElementNode {
			return n
		}
	}
	return nil
}

// Classify reports the message type of the parsed document and its
// root element.
func Classify(doc *xmlquery.Node) (Type, *xmlquery.Node) {
	root := Root(doc)
	if root == nil {
		return TypeUnknown, nil
	}
	switch {
	case root.NamespaceURI == NSBase && root.Data == "hello":
		return TypeHello, root
	case root.NamespaceURI == NSBase && root.Data == "rpc":
		return TypeRPC, root
	case root.NamespaceURI == NSBase && root.Data == "rpc-reply":
		return TypeReply, root
	case root.NamespaceURI == NSNotification && root.Data == "notification":
		return TypeNotification, root
	default:
		return TypeUnknown, root
	}
}

// MessageID returns the message-id attribute of an <rpc> or
// <rpc-reply> element, or the empty string when absent.
func MessageID(el *xmlquery.Node) string {
	if el == nil {
		return ""
	}
	return strings.TrimSpace(el.SelectAttr("message-id"))
}

// Attr is an extra attribute carried on an outgoing <rpc> element.
type Attr struct {
	Name  string
	Value string
}

// RPC renders an <rpc> envelope carrying body, with the given
// message-id and any caller-supplied extra attributes.
func RPC(messageID uint64, body string, attrs ...Attr) []byte {
	var b bytes.Buffer
	b.WriteString(`<rpc message-id="`)
	b.WriteString(strconv.FormatUint(messageID, 10))
	b.WriteString(`" xmlns="`)
	b.WriteString(NSBase)
	b.WriteString(`"`)
	for _, a := range attrs {
		b.WriteString(" ")
		b.WriteString(a.Name)
		b.WriteString(`="`)
		xml.EscapeText(&b, []byte(a.Value))
		b.WriteString(`"`)
	}
	b.WriteString(">")
	b.WriteString(body)
	b.WriteString("</rpc>")
	return b.Bytes()
}

// Reply renders an <rpc-reply> envelope carrying body, echoing the
// message-id of the rpc being answered.
func Reply(messageID, body string) []byte {
	var b bytes.Buffer
	b.WriteString(`<rpc-reply message-id="`)
	xml.EscapeText(&b, []byte(messageID))
	b.WriteString(`" xmlns="`)
	b.WriteString(NSBase)
	b.WriteString(`">`)
	b.WriteString(body)
	b.WriteString("</rpc-reply>")
	return b.Bytes()
}

// Notification renders a <notification> envelope wrapping event with
// the given RFC3339 event time.
func Notification(eventTime, event string) []byte {
	var b bytes.Buffer
	b.WriteString(`<notification xmlns="`)
	b.WriteString(NSNotification)
	b.WriteString(`"><eventTime>`)
	xml.EscapeText(&b, []byte(eventTime))
	b.WriteString(`</eventTime>`)
	b.WriteString(event)
	b.WriteString(`</notification>`)
	return b.Bytes()
}

// Hello renders a <hello> message advertising caps. A non-zero
// sessionID appends the server's <session-id> element.
func Hello(caps []string, sessionID uint32) []byte {
	var b bytes.Buffer
	b.WriteString(`<hello xmlns="`)
	b.WriteString(NSBase)
	b.WriteString(`"><capabilities>`)
	for _, c := range caps {
		b.WriteString(`<capability>`)
		xml.EscapeText(&b, []byte(c))
		b.WriteString(`</capability>`)
	}
	b.WriteString(`</capabilities>`)
	if sessionID != 0 {
		b.WriteString(`<session-id>`)
		b.WriteString(strconv.FormatUint(uint64(sessionID), 10))
		b.WriteString(`</session-id>`)
	}
	b.WriteString(`</hello>`)
	return b.Bytes()
}
