package session

import (
	"encoding/xml"
	"strconv"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/pkg/errors"

	"github.com/netkit-io/netconf/message"
	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/rpc"
)

// SendRPC serializes op into an <rpc> envelope, assigns the next
// message-id and writes the message. It returns the assigned id for
// use with RecvReply. Client sessions only.
//
// The message-id counter is a monotonically increasing 64-bit value;
// wrap-around is effectively unreachable.
func (s *Session) SendRPC(op rpc.Operation, attrs ...message.Attr) (uint64, error) {
	if s.cfg.Role != RoleClient {
		return 0, errors.Wrap(ncerr.ErrArgument, "SendRPC on a server session")
	}
	if s.Status() != StatusRunning {
		return 0, errors.Wrap(ncerr.ErrArgument, "session not running")
	}
	s.mu.Lock()
	id := s.nextMsgID
	s.nextMsgID++
	s.mu.Unlock()

	if err := s.writeMessage(message.RPC(id, op.MarshalRPC(), attrs...)); err != nil {
		return 0, err
	}
	return id, nil
}

// RecvReply returns the <rpc-reply> answering the rpc with the given
// message-id, waiting up to timeout.
//
// A queued reply with a matching id is returned first. Otherwise
// messages are drained from the wire: replies to other in-flight RPCs
// are queued, notifications are steered onto the notification queue,
// and reading continues on the remaining time budget.
func (s *Session) RecvReply(messageID uint64, timeout time.Duration) (*xmlquery.Node, error) {
	if s.cfg.Role != RoleClient {
		return nil, errors.Wrap(ncerr.ErrArgument, "RecvReply on a server session")
	}
	want := strconv.FormatUint(messageID, 10)
	deadline := time.Now().Add(timeout)
	for {
		if n := s.takeReply(want); n != nil {
			return n, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ncerr.ErrTimeout
		}
		rcv, err := s.ReadMessage(remaining)
		switch {
		case errors.Is(err, ncerr.ErrWouldBlock):
			return nil, ncerr.ErrTimeout
		case err != nil:
			return nil, err
		}
		switch rcv.Type {
		case message.TypeReply:
			if message.MessageID(rcv.Root) == want {
				return rcv.Root, nil
			}
			s.enqueueReply(rcv.Root)
		case message.TypeNotification:
			s.enqueueNotification(rcv.Root)
		}
	}
}

// RecvNotification returns the next <notification>, waiting up to
// timeout. Queued notifications are returned first; replies read
// while waiting are queued for their in-flight RPCs.
func (s *Session) RecvNotification(timeout time.Duration) (*xmlquery.Node, error) {
	if s.cfg.Role != RoleClient {
		return nil, errors.Wrap(ncerr.ErrArgument, "RecvNotification on a server session")
	}
	deadline := time.Now().Add(timeout)
	for {
		if n := s.takeNotification(); n != nil {
			return n, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, ncerr.ErrTimeout
		}
		rcv, err := s.ReadMessage(remaining)
		switch {
		case errors.Is(err, ncerr.ErrWouldBlock):
			return nil, ncerr.ErrTimeout
		case err != nil:
			return nil, err
		}
		switch rcv.Type {
		case message.TypeNotification:
			return rcv.Root, nil
		case message.TypeReply:
			s.enqueueReply(rcv.Root)
		}
	}
}

// Execute sends op and waits up to timeout for its reply.
func (s *Session) Execute(op rpc.Operation, timeout time.Duration) (*xmlquery.Node, error) {
	id, err := s.SendRPC(op)
	if err != nil {
		return nil, err
	}
	return s.RecvReply(id, timeout)
}

// SendReply writes an <rpc-reply> carrying body, echoing the
// message-id of the rpc being answered. Server sessions only.
func (s *Session) SendReply(messageID, body string) error {
	if s.cfg.Role != RoleServer {
		return errors.Wrap(ncerr.ErrArgument, "SendReply on a client session")
	}
	if s.Status() != StatusRunning {
		return errors.Wrap(ncerr.ErrArgument, "session not running")
	}
	return s.writeMessage(message.Reply(messageID, body))
}

// SendReplyError writes an <rpc-reply> carrying one or more
// <rpc-error> elements. Server sessions only.
func (s *Session) SendReplyError(messageID string, rpcErrs ...*ncerr.RPCError) error {
	var body []byte
	for _, e := range rpcErrs {
		b, err := xml.Marshal(e)
		if err != nil {
			return errors.Wrap(ncerr.ErrArgument, err.Error())
		}
		body = append(body, b...)
	}
	return s.SendReply(messageID, string(body))
}

// SendNotification writes a <notification> wrapping event with the
// given event time. Server sessions only.
func (s *Session) SendNotification(eventTime time.Time, event string) error {
	if s.cfg.Role != RoleServer {
		return errors.Wrap(ncerr.ErrArgument, "SendNotification on a client session")
	}
	if s.Status() != StatusRunning {
		return errors.Wrap(ncerr.ErrArgument, "session not running")
	}
	return s.writeMessage(message.Notification(eventTime.UTC().Format(time.RFC3339), event))
}

// sendCloseSession sends <close-session> best-effort during Close.
func (s *Session) sendCloseSession() {
	s.mu.Lock()
	id := s.nextMsgID
	s.nextMsgID++
	s.mu.Unlock()
	if err := s.writeMessage(message.RPC(id, rpc.CloseSession{}.MarshalRPC())); err != nil {
		s.log.Debug().Err(err).Msg("close-session send")
	}
}
