package client

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"

	"github.com/netkit-io/netconf/ncerr"
)

func writeTestKey(t *testing.T) string {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "")
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, pem.EncodeToMemory(block), 0o600))
	return path
}

func TestAuthMethodsPreference(t *testing.T) {
	ck := require.New(t)
	keyPath := writeTestKey(t)

	// defaults: publickey first, then interactive, then password
	opts := SSHOptions{
		Username: "alice",
		KeyFiles: []string{keyPath},
		Password: "secret",
		Interactive: func(name, instruction string, questions []string, echos []bool) ([]string, error) {
			return nil, nil
		},
	}
	methods, err := opts.authMethods()
	ck.NoError(err)
	ck.Len(methods, 3)

	// a negative preference disables the method
	opts.AuthPreference = map[string]int16{AuthPublicKey: -1}
	methods, err = opts.authMethods()
	ck.NoError(err)
	ck.Len(methods, 2)

	// disabling everything leaves no usable method
	opts.AuthPreference = map[string]int16{
		AuthPublicKey:   -1,
		AuthPassword:    -1,
		AuthInteractive: -1,
	}
	_, err = opts.authMethods()
	ck.True(errors.Is(err, ncerr.ErrArgument))
}

func TestClientConfigRequiresUsername(t *testing.T) {
	opts := SSHOptions{Password: "x"}
	_, err := opts.clientConfig()
	assert.True(t, errors.Is(err, ncerr.ErrArgument))
}

func TestAuthMethodsMissingKeyFile(t *testing.T) {
	opts := SSHOptions{Username: "a", KeyFiles: []string{"/does/not/exist"}}
	_, err := opts.authMethods()
	assert.Error(t, err)
}

func TestSplitHostPort(t *testing.T) {
	ck := assert.New(t)
	h, p := splitHostPort("device.example.com:830")
	ck.Equal("device.example.com", h)
	ck.Equal("830", p)
	h, p = splitHostPort("noport")
	ck.Equal("noport", h)
	ck.Equal("", p)
}
