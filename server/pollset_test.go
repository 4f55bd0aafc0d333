package server

import (
	"bytes"
	"fmt"
	"io"
	"net"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/antchfx/xmlquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

func tcpPair(t *testing.T) (net.Conn, net.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()
	type result struct {
		conn net.Conn
		err  error
	}
	ch := make(chan result, 1)
	go func() {
		c, err := ln.Accept()
		ch <- result{c, err}
	}()
	dial, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	res := <-ch
	require.NoError(t, res.err)
	t.Cleanup(func() {
		dial.Close()
		res.conn.Close()
	})
	return dial, res.conn
}

const clientHello11 = `<hello xmlns="urn:ietf:params:xml:ns:netconf:base:1.0"><capabilities>` +
	`<capability>urn:ietf:params:netconf:base:1.0</capability>` +
	`<capability>urn:ietf:params:netconf:base:1.1</capability>` +
	`</capabilities></hello>]]>]]>`

// newServerSession establishes one server session against a raw
// scripted peer; the peer conn is returned with the server <hello>
// already drained, ready for chunked 1.1 traffic.
func newServerSession(t *testing.T, id uint32) (*session.Session, net.Conn) {
	t.Helper()
	peer, sc := tcpPair(t)
	srv := session.New(transport.NewFD(sc, sc), session.Config{
		Role:         session.RoleServer,
		ID:           id,
		HelloTimeout: 5 * time.Second,
	})
	_, err := peer.Write([]byte(clientHello11))
	require.NoError(t, err)
	require.NoError(t, srv.Handshake())
	readUntil(t, peer, "]]>]]>") // the server hello
	return srv, peer
}

func chunked(body string) string {
	return "\n#" + strconv.Itoa(len(body)) + "\n" + body + "\n##\n"
}

func rpcMsg(id int, op string) string {
	return chunked(fmt.Sprintf(
		`<rpc message-id="%d" xmlns="urn:ietf:params:xml:ns:netconf:base:1.0">%s</rpc>`, id, op))
}

// readUntil reads from conn until the accumulated input contains
// token, returning everything read.
func readUntil(t *testing.T, conn net.Conn, token string) string {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	defer conn.SetReadDeadline(time.Time{})
	var buf bytes.Buffer
	b := make([]byte, 4096)
	for !strings.Contains(buf.String(), token) {
		n, err := conn.Read(b)
		buf.Write(b[:n])
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
	}
	return buf.String()
}

func TestPollTimeoutOnEmptySet(t *testing.T) {
	ps := NewPollSet(nil)
	res, sess, err := ps.Poll(20 * time.Millisecond)
	assert.Equal(t, DispatchTimeout, res)
	assert.Nil(t, sess)
	assert.NoError(t, err)
}

func TestPollDispatchesRPC(t *testing.T) {
	ck := require.New(t)
	srv, peer := newServerSession(t, 1)
	var calls int32
	ps := NewPollSet(func(s *session.Session, rpc *xmlquery.Node) (string, *ncerr.RPCError) {
		atomic.AddInt32(&calls, 1)
		return `<data xmlns="urn:example"/>`, nil
	})
	ps.Add(srv)
	defer ps.Clear()

	_, err := peer.Write([]byte(rpcMsg(7, "<get/>")))
	ck.NoError(err)

	res, got, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(ReplySent, res)
	ck.Same(srv, got)
	ck.EqualValues(1, atomic.LoadInt32(&calls))

	reply := readUntil(t, peer, "\n##\n")
	ck.Contains(reply, `message-id="7"`)
	ck.Contains(reply, `<data xmlns="urn:example"/>`)
}

func TestPollHandlerError(t *testing.T) {
	ck := require.New(t)
	srv, peer := newServerSession(t, 1)
	ps := NewPollSet(func(s *session.Session, rpc *xmlquery.Node) (string, *ncerr.RPCError) {
		return "", ncerr.OperationNotSupported(ncerr.WithType(ncerr.TypeProtocol))
	})
	ps.Add(srv)
	defer ps.Clear()

	_, err := peer.Write([]byte(rpcMsg(8, "<frobnicate/>")))
	ck.NoError(err)

	res, _, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(ReplyError, res)
	reply := readUntil(t, peer, "\n##\n")
	ck.Contains(reply, "<error-tag>operation-not-supported</error-tag>")
	ck.Contains(reply, `message-id="8"`)
}

func TestPollCloseSession(t *testing.T) {
	ck := require.New(t)
	srv, peer := newServerSession(t, 1)
	ps := NewPollSet(nil)
	ps.Add(srv)

	_, err := peer.Write([]byte(rpcMsg(9, "<close-session/>")))
	ck.NoError(err)

	res, got, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(SessionClosed, res)
	ck.Same(srv, got)
	ck.Equal(session.StatusInvalid, srv.Status())
	ck.Equal(session.ReasonClosed, srv.TermReason())
	ck.Zero(ps.Len())

	reply := readUntil(t, peer, "\n##\n")
	ck.Contains(reply, "<ok/>")
}

func TestPollKillSession(t *testing.T) {
	ck := require.New(t)
	srv1, peer1 := newServerSession(t, 1)
	srv2, _ := newServerSession(t, 2)
	ps := NewPollSet(nil)
	ps.Add(srv1)
	ps.Add(srv2)
	defer ps.Clear()

	_, err := peer1.Write([]byte(rpcMsg(10, "<kill-session><session-id>2</session-id></kill-session>")))
	ck.NoError(err)

	res, got, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(ReplySent, res)
	ck.Same(srv1, got)
	ck.Equal(session.StatusInvalid, srv2.Status())
	ck.Equal(session.ReasonKilled, srv2.TermReason())
	ck.Equal(1, ps.Len())
	ck.Contains(readUntil(t, peer1, "\n##\n"), "<ok/>")
}

func TestPollKillOwnSessionRefused(t *testing.T) {
	ck := require.New(t)
	srv, peer := newServerSession(t, 3)
	ps := NewPollSet(nil)
	ps.Add(srv)
	defer ps.Clear()

	_, err := peer.Write([]byte(rpcMsg(11, "<kill-session><session-id>3</session-id></kill-session>")))
	ck.NoError(err)

	res, _, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(ReplyError, res)
	ck.Contains(readUntil(t, peer, "\n##\n"), "cannot kill own session")
	ck.Equal(session.StatusRunning, srv.Status())
}

func TestPollPeerDrop(t *testing.T) {
	ck := require.New(t)
	srv, peer := newServerSession(t, 1)
	ps := NewPollSet(nil)
	ps.Add(srv)

	ck.NoError(peer.Close())
	res, got, err := ps.Poll(2 * time.Second)
	ck.NoError(err)
	ck.Equal(SessionClosed, res)
	ck.Same(srv, got)
	ck.Equal(session.ReasonDropped, srv.TermReason())
	ck.Zero(ps.Len())
}

func TestPollIdleTeardown(t *testing.T) {
	ck := require.New(t)
	srv, _ := newServerSession(t, 1)
	srv.TouchIdle(time.Nanosecond)
	ps := NewPollSet(nil)
	ps.Add(srv)

	time.Sleep(time.Millisecond)
	res, got, err := ps.Poll(time.Second)
	ck.NoError(err)
	ck.Equal(SessionClosed, res)
	ck.Same(srv, got)
	ck.Equal(session.ReasonTimeout, srv.TermReason())
}

// three sessions each with one pending rpc, two workers polling
// concurrently: every rpc is answered exactly once with a matching
// message-id
func TestConcurrentPollDispatch(t *testing.T) {
	ck := require.New(t)
	const sessions = 3
	var calls int32
	ps := NewPollSet(func(s *session.Session, rpc *xmlquery.Node) (string, *ncerr.RPCError) {
		atomic.AddInt32(&calls, 1)
		return `<data xmlns="urn:example"/>`, nil
	})
	defer ps.Clear()

	peers := make([]net.Conn, sessions)
	for i := 0; i < sessions; i++ {
		srv, peer := newServerSession(t, uint32(i+1))
		ps.Add(srv)
		peers[i] = peer
	}
	// every session has exactly one rpc pending before polling starts
	for i, peer := range peers {
		_, err := peer.Write([]byte(rpcMsg(100+i, "<get/>")))
		ck.NoError(err)
	}

	var served int32
	var wg sync.WaitGroup
	for w := 0; w < 2; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for atomic.LoadInt32(&served) < sessions {
				res, _, err := ps.Poll(100 * time.Millisecond)
				assert.NoError(t, err)
				if res == ReplySent {
					atomic.AddInt32(&served, 1)
				}
			}
		}()
	}
	wg.Wait()

	ck.EqualValues(sessions, atomic.LoadInt32(&calls))
	for i, peer := range peers {
		reply := readUntil(t, peer, "\n##\n")
		ck.Contains(reply, fmt.Sprintf(`message-id="%d"`, 100+i))
	}
}
