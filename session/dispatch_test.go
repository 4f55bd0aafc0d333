package session

import (
	"strconv"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netkit-io/netconf/message"
	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/rpc"
)

const lockRPC101 = `<rpc message-id="101" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
	`<lock><target><running/></target></lock></rpc>`

func TestServerReadsRPC(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession(lockRPC101+"]]>]]>", Config{Role: RoleServer, ID: 1}, Version10)
	rcv, err := s.ReadMessage(time.Second)
	ck.NoError(err)
	ck.Equal(message.TypeRPC, rcv.Type)
	ck.Equal("rpc", rcv.Root.Data)
	ck.Equal("101", rcv.Root.SelectAttr("message-id"))
	first := rcv.Root.SelectElement("lock")
	ck.NotNil(first)
	ck.NotNil(first.SelectElement("target/running"))
	ck.Equal(StatusRunning, s.Status())
}

func TestClientRejectsRPC(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession(lockRPC101+"]]>]]>", Config{Role: RoleClient}, Version10)
	_, err := s.ReadMessage(time.Second)
	ck.Error(err)
	ck.True(errors.Is(err, ncerr.ErrWrongSide))
	// a wrong-side message never invalidates the session
	ck.Equal(StatusRunning, s.Status())
}

func TestServerRejectsReply(t *testing.T) {
	ck := require.New(t)
	input := `<rpc-reply message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>]]>]]>`
	s, _ := newScriptedSession(input, Config{Role: RoleServer, ID: 1}, Version10)
	_, err := s.ReadMessage(time.Second)
	ck.True(errors.Is(err, ncerr.ErrWrongSide))
}

func TestDuplicateHelloViolatesProtocol(t *testing.T) {
	ck := require.New(t)
	input := `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities/></hello>]]>]]>`
	s, _ := newScriptedSession(input, Config{Role: RoleServer, ID: 1}, Version10)
	_, err := s.ReadMessage(time.Second)
	ck.True(errors.Is(err, ncerr.ErrProtocol))
	ck.Equal(StatusInvalid, s.Status())
}

func TestReadMessageWouldBlock(t *testing.T) {
	ck := require.New(t)
	cc, _ := tcpPair(t)
	s := New(connTransport(cc), Config{Role: RoleServer, ID: 1})
	s.status = StatusRunning
	_, err := s.ReadMessage(20 * time.Millisecond)
	ck.True(errors.Is(err, ncerr.ErrWouldBlock))
	// would-block never mutates session status
	ck.Equal(StatusRunning, s.Status())
}

func TestReadMessageDropped(t *testing.T) {
	ck := require.New(t)
	cc, sc := tcpPair(t)
	s := New(connTransport(sc), Config{Role: RoleServer, ID: 1})
	s.status = StatusRunning
	ck.NoError(cc.Close())
	_, err := s.ReadMessage(time.Second)
	ck.True(errors.Is(err, ncerr.ErrTransport))
	ck.Equal(StatusInvalid, s.Status())
	ck.Equal(ReasonDropped, s.TermReason())
}

func TestMalformedFraming(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession("\n#0\nx\n##\n", Config{Role: RoleServer, ID: 1}, Version11)
	_, err := s.ReadMessage(time.Second)
	ck.True(errors.Is(err, ncerr.ErrMalformed))
	ck.Equal(StatusInvalid, s.Status())
}

func TestSendRPCChunkedExactBytes(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleClient, FirstMessageID: 1000}, Version11)
	id, err := s.SendRPC(rpc.Lock{Target: rpc.Running()})
	ck.NoError(err)
	ck.Equal(uint64(1000), id)

	body := `<rpc message-id="1000" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">` +
		`<lock><target><running/></target></lock></rpc>`
	want := "\n#" + strconv.Itoa(len(body)) + "\n" + body + "\n##\n"
	ck.Equal(want, out.String())

	// the counter increases monotonically
	id, err = s.SendRPC(rpc.Unlock{Target: rpc.Running()})
	ck.NoError(err)
	ck.Equal(uint64(1001), id)
}

func TestSendRPCEndOfMessageFraming(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleClient}, Version10)
	_, err := s.SendRPC(rpc.Get{})
	ck.NoError(err)
	ck.Equal(`<rpc message-id="1" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><get/></rpc>]]>]]>`,
		out.String())
}

func reply(id string) string {
	return `<rpc-reply message-id="` + id + `" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>]]>]]>`
}

func notification(event string) string {
	return `<notification xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0">` +
		`<eventTime>t</eventTime>` + event + `</notification>]]>]]>`
}

func TestRecvReplySteersMisorderedReplies(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession(reply("2")+reply("1"), Config{Role: RoleClient}, Version10)
	s.nextMsgID = 3 // ids 1 and 2 are in flight

	got, err := s.RecvReply(1, time.Second)
	ck.NoError(err)
	ck.Equal("1", message.MessageID(got))

	// reply 2 was queued while waiting for 1
	got, err = s.RecvReply(2, time.Second)
	ck.NoError(err)
	ck.Equal("2", message.MessageID(got))
}

func TestRecvReplyQueuesNotifications(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession(
		notification(`<alarm xmlns="urn:example"/>`)+reply("1"),
		Config{Role: RoleClient}, Version10)

	got, err := s.RecvReply(1, time.Second)
	ck.NoError(err)
	ck.Equal("1", message.MessageID(got))

	n, err := s.RecvNotification(time.Second)
	ck.NoError(err)
	ck.Equal("notification", n.Data)
	ck.NotNil(n.SelectElement("alarm"))
}

func TestRecvNotificationQueuesReplies(t *testing.T) {
	ck := require.New(t)
	s, _ := newScriptedSession(
		reply("1")+notification(`<up xmlns="urn:example"/>`),
		Config{Role: RoleClient}, Version10)

	n, err := s.RecvNotification(time.Second)
	ck.NoError(err)
	ck.NotNil(n.SelectElement("up"))

	got, err := s.RecvReply(1, time.Second)
	ck.NoError(err)
	ck.Equal("1", message.MessageID(got))
}

func TestRecvReplyTimeout(t *testing.T) {
	ck := require.New(t)
	cc, _ := tcpPair(t)
	s := New(connTransport(cc), Config{Role: RoleClient})
	s.status = StatusRunning
	_, err := s.RecvReply(1, 30*time.Millisecond)
	ck.True(errors.Is(err, ncerr.ErrTimeout))
	ck.Equal(StatusRunning, s.Status())
}

func TestRPCGatedOnRunning(t *testing.T) {
	ck := assert.New(t)
	cc, _ := tcpPair(t)
	s := New(connTransport(cc), Config{Role: RoleClient})
	_, err := s.SendRPC(rpc.Get{})
	ck.True(errors.Is(err, ncerr.ErrArgument))
	_, err = s.ReadMessage(time.Millisecond)
	ck.True(errors.Is(err, ncerr.ErrArgument))
}

func TestRoleGates(t *testing.T) {
	ck := assert.New(t)
	srv, _ := newScriptedSession("", Config{Role: RoleServer, ID: 1}, Version10)
	_, err := srv.SendRPC(rpc.Get{})
	ck.True(errors.Is(err, ncerr.ErrArgument))
	_, err = srv.RecvReply(1, time.Millisecond)
	ck.True(errors.Is(err, ncerr.ErrArgument))

	cli, _ := newScriptedSession("", Config{Role: RoleClient}, Version10)
	ck.True(errors.Is(cli.SendReply("1", "<ok/>"), ncerr.ErrArgument))
	ck.True(errors.Is(cli.SendNotification(time.Now(), "<e/>"), ncerr.ErrArgument))
}

func TestServerSendReplyEchoesID(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleServer, ID: 1}, Version10)
	ck.NoError(s.SendReply("101", "<ok/>"))
	ck.Equal(`<rpc-reply message-id="101" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><ok/></rpc-reply>]]>]]>`,
		out.String())
}

func TestServerSendNotification(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleServer, ID: 1}, Version10)
	when := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	ck.NoError(s.SendNotification(when, `<linkUp xmlns="urn:example"/>`))
	ck.Equal(`<notification xmlns="urn:ietf:params:xml:ns:netconf:notification:1.0">`+
		`<eventTime>2024-01-02T03:04:05Z</eventTime><linkUp xmlns="urn:example"/></notification>]]>]]>`,
		out.String())
}

func TestSendReplyError(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleServer, ID: 1}, Version10)
	ck.NoError(s.SendReplyError("5", ncerr.OperationNotSupported(ncerr.WithType(ncerr.TypeProtocol))))
	ck.Contains(out.String(), `message-id="5"`)
	ck.Contains(out.String(), `<error-tag>operation-not-supported</error-tag>`)
}

func TestCloseSendsCloseSession(t *testing.T) {
	ck := require.New(t)
	s, out := newScriptedSession("", Config{Role: RoleClient}, Version10)
	ck.NoError(s.Close())
	ck.Contains(out.String(), "<close-session/>")
	ck.Equal(StatusInvalid, s.Status())
	ck.Equal(ReasonClosed, s.TermReason())
}

// loopback round trip: what one side writes, the other reads back as
// an identical XML tree
func TestLoopbackRoundTrip(t *testing.T) {
	ck := require.New(t)
	cc, sc := tcpPair(t)
	cli := New(connTransport(cc), Config{Role: RoleClient})
	srv := New(connTransport(sc), Config{Role: RoleServer, ID: 1})
	cli.status = StatusRunning
	srv.status = StatusRunning
	cli.setVersion(Version11)
	srv.setVersion(Version11)

	id, err := cli.SendRPC(rpc.GetConfig{Source: rpc.Running()})
	ck.NoError(err)

	rcv, err := srv.ReadMessage(time.Second)
	ck.NoError(err)
	ck.Equal(message.TypeRPC, rcv.Type)
	msgid := message.MessageID(rcv.Root)
	ck.Equal(strconv.FormatUint(id, 10), msgid)
	ck.NotNil(rcv.Root.SelectElement("get-config/source/running"))

	ck.NoError(srv.SendReply(msgid, `<data><top xmlns="urn:example"/></data>`))
	got, err := cli.RecvReply(id, time.Second)
	ck.NoError(err)
	ck.NotNil(got.SelectElement("data/top"))
}
