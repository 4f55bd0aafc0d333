package session

import (
	"io"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/framing"
	"github.com/netkit-io/netconf/message"
	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/transport"
)

// Received is one classified incoming message.
type Received struct {
	// Type classifies the message by its top-level element.
	Type message.Type
	// Doc is the parsed XML document.
	Doc *xmlquery.Node
	// Root is the document's top-level element.
	Root *xmlquery.Node
}

// ReadMessage reads one whole message within timeout, acquiring the
// transport mutex for the duration of the read.
//
// It returns ncerr.ErrWouldBlock when no input arrives within the
// timeout (the session is untouched), ncerr.ErrWrongSide for a
// message type not valid for this side, and a fatal error (with the
// session moved to StatusInvalid) for transport, framing or protocol
// failures. The session must be running.
func (s *Session) ReadMessage(timeout time.Duration) (*Received, error) {
	if s.Status() != StatusRunning {
		return nil, errors.Wrap(ncerr.ErrArgument, "session not running")
	}
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.readLocked(timeout)
}

// PollIn waits up to timeout for input: undecoded bytes already
// buffered by the reader count as readable, so pipelined messages
// read ahead of their turn are not mistaken for an idle stream.
func (s *Session) PollIn(timeout time.Duration) (transport.PollResult, error) {
	if s.r.Buffered() {
		return transport.PollReady, nil
	}
	return s.t.PollReadable(timeout)
}

// readLocked drains one message from the wire. The caller holds ioMu.
func (s *Session) readLocked(timeout time.Duration) (*Received, error) {
	switch res, err := s.PollIn(timeout); {
	case err != nil:
		s.invalidate(ReasonDropped)
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	case res == transport.PollTimeout:
		return nil, ncerr.ErrWouldBlock
	case res == transport.PollDisconnect:
		s.invalidate(ReasonDropped)
		return nil, errors.Wrap(ncerr.ErrTransport, "peer disconnected")
	}

	body, err := s.r.ReadMessage()
	switch {
	case err == nil:
	case errors.As(err, &framing.ErrBadChunk{}):
		s.invalidate(ReasonOther)
		return nil, errors.Wrap(ncerr.ErrMalformed, err.Error())
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		s.invalidate(ReasonDropped)
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	default:
		s.invalidate(ReasonDropped)
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}

	doc, err := message.Parse(body)
	if err != nil {
		s.invalidate(ReasonOther)
		return nil, err
	}
	typ, root := message.Classify(doc)
	s.log.Debug().Stringer("type", typ).Int("bytes", len(body)).Msg("message received")

	if err := s.checkSide(typ); err != nil {
		return nil, err
	}
	return &Received{Type: typ, Doc: doc, Root: root}, nil
}

// checkSide enforces which message types each side may surface once
// running: a server only accepts <rpc>, a client only <rpc-reply> and
// <notification>. A duplicate <hello> violates the protocol and an
// unrecognized document is malformed; both invalidate the session.
// Wrong-side messages are reported without touching session state.
func (s *Session) checkSide(typ message.Type) error {
	switch typ {
	case message.TypeHello:
		s.invalidate(ReasonOther)
		return errors.Wrap(ncerr.ErrProtocol, "duplicate <hello>")
	case message.TypeUnknown:
		s.invalidate(ReasonOther)
		return errors.Wrap(ncerr.ErrMalformed, "unrecognized message")
	case message.TypeRPC:
		if s.cfg.Role != RoleServer {
			return errors.Wrap(ncerr.ErrWrongSide, "<rpc> received by client")
		}
	case message.TypeReply:
		if s.cfg.Role != RoleClient {
			return errors.Wrap(ncerr.ErrWrongSide, "<rpc-reply> received by server")
		}
	case message.TypeNotification:
		if s.cfg.Role != RoleClient {
			return errors.Wrap(ncerr.ErrWrongSide, "<notification> received by server")
		}
	}
	return nil
}

// writeLocked writes one whole framed message. The caller holds ioMu.
func (s *Session) writeLocked(b []byte) error {
	if err := s.w.WriteMessage(b); err != nil {
		s.invalidate(ReasonDropped)
		return errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	s.log.Debug().Int("bytes", len(b)).Msg("message sent")
	return nil
}

// writeMessage acquires the transport mutex and writes one message.
func (s *Session) writeMessage(b []byte) error {
	s.ioMu.Lock()
	defer s.ioMu.Unlock()
	return s.writeLocked(b)
}

func replyMessageID(root *xmlquery.Node) string { return message.MessageID(root) }

// TryClaim attempts to take the transport mutex without blocking,
// returning true on success. Poll dispatchers use the claim to
// guarantee at most one worker services a session at a time; a
// contended claim means another worker already has it.
func (s *Session) TryClaim() bool { return s.ioMu.TryLock() }

// Release releases a claim taken with TryClaim.
func (s *Session) Release() { s.ioMu.Unlock() }

// ReadMessageClaimed reads one whole message like ReadMessage, for
// callers already holding the transport mutex via TryClaim.
func (s *Session) ReadMessageClaimed(timeout time.Duration) (*Received, error) {
	if s.Status() != StatusRunning {
		return nil, errors.Wrap(ncerr.ErrArgument, "session not running")
	}
	return s.readLocked(timeout)
}

// SendReplyClaimed writes an <rpc-reply> like SendReply, for callers
// already holding the transport mutex via TryClaim.
func (s *Session) SendReplyClaimed(messageID, body string) error {
	return s.writeLocked(message.Reply(messageID, body))
}
