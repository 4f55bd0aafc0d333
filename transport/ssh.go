package transport

import (
	"io"
	"sync"

	"golang.org/x/crypto/ssh"
)

// SSHConn owns an SSH connection carrying one or more NETCONF channel
// subsystems. All sibling sessions multiplexed over the connection
// share its transport mutex, so whole messages from different
// channels never interleave on the wire, and the connection itself is
// closed when the last sibling releases it.
type SSHConn struct {
	conn ssh.Conn

	mu    sync.Mutex // shared transport mutex
	refmu sync.Mutex // guards refs
	refs  int
}

// NewSSHConn returns a shared owner for conn. conn may be nil in
// tests exercising a bare channel.
func NewSSHConn(conn ssh.Conn) *SSHConn {
	return &SSHConn{conn: conn}
}

// IOLock returns the transport mutex shared by every sibling session.
func (c *SSHConn) IOLock() *sync.Mutex { return &c.mu }

// Conn returns the underlying SSH connection.
func (c *SSHConn) Conn() ssh.Conn { return c.conn }

func (c *SSHConn) retain() {
	c.refmu.Lock()
	c.refs++
	c.refmu.Unlock()
}

// release drops one sibling reference, closing the SSH connection
// when the last reference goes away.
func (c *SSHConn) release() (err error) {
	c.refmu.Lock()
	c.refs--
	last := c.refs == 0
	c.refmu.Unlock()
	if last && c.conn != nil {
		err = c.conn.Close()
	}
	return err
}

// SSH is a Transport over a single NETCONF channel subsystem of an
// SSH connection.
type SSH struct {
	poller
	ch    ssh.Channel
	owner *SSHConn
}

// NewSSH returns a Transport over the channel ch, registering it as a
// sibling on owner.
func NewSSH(owner *SSHConn, ch ssh.Channel) *SSH {
	owner.retain()
	return &SSH{poller: poller{src: ch}, ch: ch, owner: owner}
}

// Kind reports KindSSH.
func (t *SSH) Kind() Kind { return KindSSH }

// Owner returns the shared SSH connection owner.
func (t *SSH) Owner() *SSHConn { return t.owner }

// Write writes b in full to the channel.
func (t *SSH) Write(b []byte) (int, error) {
	n, err := t.ch.Write(b)
	if err == nil && n < len(b) {
		err = io.ErrShortWrite
	}
	return n, err
}

// Close closes the channel and releases the sibling reference on the
// shared connection. The connection is torn down with the last
// sibling.
func (t *SSH) Close() error {
	err := t.ch.Close()
	if rerr := t.owner.release(); err == nil {
		err = rerr
	}
	if err == io.EOF {
		err = nil
	}
	return err
}
