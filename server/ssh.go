package server

import (
	"bytes"
	"encoding/binary"
	"net"
	"os"
	"sync"
	"time"

	"github.com/pkg/errors"
	"golang.org/x/crypto/ssh"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// AuthMethod is a set of permitted SSH authentication methods.
type AuthMethod uint

const (
	// AuthPublicKey permits publickey authentication.
	AuthPublicKey AuthMethod = 1 << iota
	// AuthPassword permits password authentication.
	AuthPassword
	// AuthInteractive permits keyboard-interactive authentication.
	AuthInteractive
)

const (
	defaultAuthAttempts = 3
	defaultAuthTimeout  = 10 * time.Second
)

type authorizedKey struct {
	key      ssh.PublicKey
	username string
}

// SSHOptions carries the server's SSH transport configuration. All
// accessors serialize on the option mutex; acceptors snapshot the
// options into each handshake.
type SSHOptions struct {
	mu             sync.Mutex
	hostKeys       []ssh.Signer
	banner         string
	authMethods    AuthMethod
	authAttempts   uint16
	authTimeout    time.Duration
	authorizedKeys []authorizedKey

	// passwordAuth validates a username/password pair.
	passwordAuth func(username, password string) bool
	// interactiveAuth runs a keyboard-interactive conversation.
	interactiveAuth func(username string, challenge ssh.KeyboardInteractiveChallenge) bool
}

func (o *SSHOptions) init() {
	o.authMethods = AuthPublicKey | AuthPassword | AuthInteractive
	o.authAttempts = defaultAuthAttempts
	o.authTimeout = defaultAuthTimeout
}

// AddHostKey installs a host key signer.
func (o *SSHOptions) AddHostKey(signer ssh.Signer) {
	o.mu.Lock()
	o.hostKeys = append(o.hostKeys, signer)
	o.mu.Unlock()
}

// AddHostKeyFile loads and installs a PEM host key.
func (o *SSHOptions) AddHostKeyFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read host key")
	}
	signer, err := ssh.ParsePrivateKey(b)
	if err != nil {
		return errors.Wrap(err, "parse host key")
	}
	o.AddHostKey(signer)
	return nil
}

// SetBanner sets the pre-authentication banner.
func (o *SSHOptions) SetBanner(banner string) {
	o.mu.Lock()
	o.banner = banner
	o.mu.Unlock()
}

// SetAuthMethods restricts the permitted authentication methods.
func (o *SSHOptions) SetAuthMethods(methods AuthMethod) {
	o.mu.Lock()
	o.authMethods = methods
	o.mu.Unlock()
}

// SetAuthAttempts bounds per-connection authentication attempts.
func (o *SSHOptions) SetAuthAttempts(attempts uint16) {
	o.mu.Lock()
	o.authAttempts = attempts
	o.mu.Unlock()
}

// SetAuthTimeout bounds the transport handshake and authentication.
func (o *SSHOptions) SetAuthTimeout(timeout time.Duration) {
	o.mu.Lock()
	o.authTimeout = timeout
	o.mu.Unlock()
}

// AddAuthorizedKey permits key (an authorized_keys format line) for
// username.
func (o *SSHOptions) AddAuthorizedKey(line []byte, username string) error {
	key, _, _, _, err := ssh.ParseAuthorizedKey(line)
	if err != nil {
		return errors.Wrap(err, "parse authorized key")
	}
	o.mu.Lock()
	o.authorizedKeys = append(o.authorizedKeys, authorizedKey{key: key, username: username})
	o.mu.Unlock()
	return nil
}

// AddAuthorizedKeyFile permits the key at path for username.
func (o *SSHOptions) AddAuthorizedKeyFile(path, username string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrap(err, "read authorized key")
	}
	return o.AddAuthorizedKey(b, username)
}

// SetPasswordAuth installs the password validation hook.
func (o *SSHOptions) SetPasswordAuth(fn func(username, password string) bool) {
	o.mu.Lock()
	o.passwordAuth = fn
	o.mu.Unlock()
}

// SetInteractiveAuth installs the keyboard-interactive hook.
func (o *SSHOptions) SetInteractiveAuth(fn func(username string, challenge ssh.KeyboardInteractiveChallenge) bool) {
	o.mu.Lock()
	o.interactiveAuth = fn
	o.mu.Unlock()
}

// serverConfig snapshots the options into a per-connection
// ssh.ServerConfig.
func (o *SSHOptions) serverConfig() (*ssh.ServerConfig, time.Duration, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.hostKeys) == 0 {
		return nil, 0, errors.Wrap(ncerr.ErrArgument, "no SSH host keys configured")
	}
	cfg := &ssh.ServerConfig{
		MaxAuthTries: int(o.authAttempts),
	}
	for _, k := range o.hostKeys {
		cfg.AddHostKey(k)
	}
	if o.banner != "" {
		banner := o.banner
		cfg.BannerCallback = func(ssh.ConnMetadata) string { return banner }
	}
	if o.authMethods&AuthPublicKey != 0 {
		keys := append([]authorizedKey{}, o.authorizedKeys...)
		cfg.PublicKeyCallback = func(conn ssh.ConnMetadata, key ssh.PublicKey) (*ssh.Permissions, error) {
			marshaled := key.Marshal()
			for _, ak := range keys {
				if ak.username == conn.User() && bytes.Equal(ak.key.Marshal(), marshaled) {
					return &ssh.Permissions{}, nil
				}
			}
			return nil, errors.New("unknown public key")
		}
	}
	if o.authMethods&AuthPassword != 0 && o.passwordAuth != nil {
		check := o.passwordAuth
		cfg.PasswordCallback = func(conn ssh.ConnMetadata, password []byte) (*ssh.Permissions, error) {
			if check(conn.User(), string(password)) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("password rejected")
		}
	}
	if o.authMethods&AuthInteractive != 0 && o.interactiveAuth != nil {
		check := o.interactiveAuth
		cfg.KeyboardInteractiveCallback = func(conn ssh.ConnMetadata, challenge ssh.KeyboardInteractiveChallenge) (*ssh.Permissions, error) {
			if check(conn.User(), challenge) {
				return &ssh.Permissions{}, nil
			}
			return nil, errors.New("keyboard-interactive rejected")
		}
	}
	return cfg, o.authTimeout, nil
}

// acceptSSH runs the SSH handshake and authentication over conn,
// demultiplexes the first "netconf" channel subsystem and returns its
// established session. Further channels opened by the peer become
// sibling sessions surfaced through Accept.
func (s *Server) acceptSSH(conn net.Conn) (*session.Session, error) {
	cfg, authTimeout, err := s.sshOpts.serverConfig()
	if err != nil {
		return nil, err
	}
	_ = conn.SetDeadline(time.Now().Add(authTimeout))
	sconn, chans, reqs, err := ssh.NewServerConn(conn, cfg)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
	}
	_ = conn.SetDeadline(time.Time{})
	go ssh.DiscardRequests(reqs)

	owner := transport.NewSSHConn(sconn)
	ch, err := acceptNetconfChannel(chans, s.opts.HelloTimeout)
	if err != nil {
		_ = sconn.Close()
		return nil, err
	}
	cfgSess := s.newSessionConfig(sconn.RemoteAddr())
	sess, err := s.establish(transport.NewSSH(owner, ch), cfgSess, sconn.User())
	if err != nil {
		_ = sconn.Close()
		return nil, err
	}
	// sibling NETCONF channels multiplexed over this connection
	go s.serveSiblingChannels(sconn, owner, chans)
	return sess, nil
}

// serveSiblingChannels establishes sessions for additional netconf
// channels the peer opens over an authenticated SSH connection and
// queues them for Accept.
func (s *Server) serveSiblingChannels(sconn *ssh.ServerConn, owner *transport.SSHConn, chans <-chan ssh.NewChannel) {
	for {
		ch, err := acceptNetconfChannel(chans, 0)
		if err != nil {
			return
		}
		cfg := s.newSessionConfig(sconn.RemoteAddr())
		sess, err := s.establish(transport.NewSSH(owner, ch), cfg, sconn.User())
		if err != nil {
			s.log.Warn().Err(err).Msg("sibling channel handshake")
			continue
		}
		metricSessionsAccepted.WithLabelValues(transport.KindSSH.String()).Inc()
		s.pending <- sess
	}
}

// acceptNetconfChannel waits for a "session" channel requesting the
// netconf subsystem. A zero timeout waits until the channel source
// closes.
func acceptNetconfChannel(chans <-chan ssh.NewChannel, timeout time.Duration) (ssh.Channel, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case newCh, ok := <-chans:
			if !ok {
				return nil, errors.Wrap(ncerr.ErrTransport, "SSH connection closed")
			}
			if newCh.ChannelType() != "session" {
				_ = newCh.Reject(ssh.UnknownChannelType, "unknown channel type")
				continue
			}
			ch, requests, err := newCh.Accept()
			if err != nil {
				continue
			}
			if awaitNetconfSubsystem(ch, requests, timeout) {
				return ch, nil
			}
			_ = ch.Close()
		case <-deadline:
			return nil, errors.Wrap(ncerr.ErrTimeout, "no netconf subsystem requested")
		}
	}
}

// awaitNetconfSubsystem consumes channel requests until the netconf
// subsystem is requested or the channel goes away.
func awaitNetconfSubsystem(ch ssh.Channel, requests <-chan *ssh.Request, timeout time.Duration) bool {
	var deadline <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		deadline = t.C
	}
	for {
		select {
		case req, ok := <-requests:
			if !ok {
				return false
			}
			if req.Type == "subsystem" && parseSubsystem(req.Payload) == "netconf" {
				_ = req.Reply(true, nil)
				// drain further channel requests
				go func() {
					for r := range requests {
						_ = r.Reply(false, nil)
					}
				}()
				return true
			}
			_ = req.Reply(false, nil)
		case <-deadline:
			return false
		}
	}
}

// parseSubsystem extracts the subsystem name from an SSH string
// payload (big-endian uint32 length + data).
func parseSubsystem(payload []byte) string {
	if len(payload) < 4 {
		return ""
	}
	n := binary.BigEndian.Uint32(payload[:4])
	if uint32(len(payload)-4) < n {
		return ""
	}
	return string(payload[4 : 4+n])
}
