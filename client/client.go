package client

import (
	"os"
	"sort"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"

	"github.com/netkit-io/netconf/ncerr"
	"github.com/netkit-io/netconf/schema"
	"github.com/netkit-io/netconf/session"
	"github.com/netkit-io/netconf/transport"
)

// Auth method names used in AuthPreference.
const (
	AuthPublicKey   = "publickey"
	AuthPassword    = "password"
	AuthInteractive = "interactive"
)

// Config carries session parameters common to every client transport.
type Config struct {
	// Capabilities advertised in our <hello>;
	// session.DefaultCapabilities when empty.
	Capabilities session.Capabilities
	// HelloTimeout bounds the hello exchange.
	HelloTimeout time.Duration
	// Schema is the shared schema context handle.
	Schema *schema.Context
	// Logger receives client logging; silent when unset.
	Logger *zerolog.Logger
}

func (c Config) sessionConfig(host, port string) session.Config {
	return session.Config{
		Role:         session.RoleClient,
		Capabilities: c.Capabilities,
		HelloTimeout: c.HelloTimeout,
		Schema:       c.Schema,
		Logger:       c.Logger,
		PeerHost:     host,
		PeerPort:     port,
	}
}

// SSHOptions carries client SSH transport configuration.
type SSHOptions struct {
	// Username authenticates to the server.
	Username string
	// KeyFiles name private key files offered for publickey auth.
	KeyFiles []string
	// Password, when non-empty, enables password auth.
	Password string
	// Interactive, when set, enables keyboard-interactive auth.
	Interactive func(name, instruction string, questions []string, echos []bool) ([]string, error)
	// AuthPreference orders methods by value; negative disables a
	// method. Unlisted methods keep their defaults (publickey 3,
	// interactive 2, password 1).
	AuthPreference map[string]int16
	// HostKeyCallback verifies the server host key. Verification is
	// delegated to the SSH library (e.g. knownhosts); when unset the
	// host key is not verified.
	HostKeyCallback ssh.HostKeyCallback
	// DialTimeout bounds the TCP and SSH handshake.
	DialTimeout time.Duration
}

// authMethods builds the ordered ssh.AuthMethod list from the
// preference table.
func (o SSHOptions) authMethods() ([]ssh.AuthMethod, error) {
	pref := map[string]int16{AuthPublicKey: 3, AuthInteractive: 2, AuthPassword: 1}
	for k, v := range o.AuthPreference {
		pref[k] = v
	}
	type candidate struct {
		name   string
		weight int16
		method ssh.AuthMethod
	}
	var cands []candidate

	if len(o.KeyFiles) > 0 && pref[AuthPublicKey] >= 0 {
		var signers []ssh.Signer
		for _, path := range o.KeyFiles {
			b, err := os.ReadFile(path)
			if err != nil {
				return nil, errors.Wrap(err, "read private key")
			}
			signer, err := ssh.ParsePrivateKey(b)
			if err != nil {
				return nil, errors.Wrap(err, "parse private key")
			}
			signers = append(signers, signer)
		}
		cands = append(cands, candidate{AuthPublicKey, pref[AuthPublicKey], ssh.PublicKeys(signers...)})
	}
	if o.Password != "" && pref[AuthPassword] >= 0 {
		cands = append(cands, candidate{AuthPassword, pref[AuthPassword], ssh.Password(o.Password)})
	}
	if o.Interactive != nil && pref[AuthInteractive] >= 0 {
		cands = append(cands, candidate{AuthInteractive, pref[AuthInteractive], ssh.KeyboardInteractive(o.Interactive)})
	}
	if len(cands) == 0 {
		return nil, errors.Wrap(ncerr.ErrArgument, "no usable SSH authentication method")
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].weight > cands[j].weight })
	methods := make([]ssh.AuthMethod, len(cands))
	for i, c := range cands {
		methods[i] = c.method
	}
	return methods, nil
}

func (o SSHOptions) clientConfig() (*ssh.ClientConfig, error) {
	if o.Username == "" {
		return nil, errors.Wrap(ncerr.ErrArgument, "SSH username required")
	}
	methods, err := o.authMethods()
	if err != nil {
		return nil, err
	}
	hostKey := o.HostKeyCallback
	if hostKey == nil {
		hostKey = ssh.InsecureIgnoreHostKey()
	}
	return &ssh.ClientConfig{
		User:            o.Username,
		Auth:            methods,
		HostKeyCallback: hostKey,
		Timeout:         o.DialTimeout,
	}, nil
}

// Conn is an authenticated SSH connection carrying NETCONF sessions.
// Sessions opened from one Conn are siblings sharing a transport
// mutex.
type Conn struct {
	conn  ssh.Conn
	owner *transport.SSHConn
	cfg   Config
	host  string
	port  string
}

// Session opens a new netconf channel subsystem over the connection
// and performs the NETCONF handshake.
func (c *Conn) Session() (*session.Session, error) {
	ch, reqs, err := c.conn.OpenChannel("session", nil)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrTransport, err.Error())
	}
	go ssh.DiscardRequests(reqs)
	ok, err := ch.SendRequest("subsystem", true, ssh.Marshal(struct{ Name string }{"netconf"}))
	if err != nil || !ok {
		_ = ch.Close()
		return nil, errors.Wrap(ncerr.ErrTransport, "netconf subsystem rejected")
	}
	sess := session.New(transport.NewSSH(c.owner, ch), c.cfg.sessionConfig(c.host, c.port))
	if err := sess.Handshake(); err != nil {
		return nil, err
	}
	return sess, nil
}

// Close closes the SSH connection and every session on it.
func (c *Conn) Close() error { return c.conn.Close() }

// Dial connects and authenticates to a NETCONF-over-SSH server.
func Dial(address string, opts SSHOptions, cfg Config) (*Conn, error) {
	ccfg, err := opts.clientConfig()
	if err != nil {
		return nil, err
	}
	client, err := ssh.Dial("tcp", address, ccfg)
	if err != nil {
		return nil, errors.Wrap(ncerr.ErrAuthFailed, err.Error())
	}
	host, port := splitHostPort(address)
	return &Conn{
		conn:  client.Conn,
		owner: transport.NewSSHConn(client.Conn),
		cfg:   cfg,
		host:  host,
		port:  port,
	}, nil
}

// DialSSH connects to a NETCONF-over-SSH server and opens a single
// session. Closing the session closes the connection.
func DialSSH(address string, opts SSHOptions, cfg Config) (*session.Session, error) {
	conn, err := Dial(address, opts, cfg)
	if err != nil {
		return nil, err
	}
	sess, err := conn.Session()
	if err != nil {
		_ = conn.Close()
		return nil, err
	}
	return sess, nil
}
