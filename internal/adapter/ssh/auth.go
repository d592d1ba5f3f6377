package ssh

import (
	"fmt"
	"log/slog"
	"os"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"

	"github.com/Strob0t/opsloop/internal/domain"
	"github.com/Strob0t/opsloop/internal/port/transport"
)

// authMethods builds the single authentication method the descriptor allows.
func authMethods(d transport.Descriptor) ([]ssh.AuthMethod, error) {
	if !d.HasKey() {
		return []ssh.AuthMethod{ssh.Password(d.Password)}, nil
	}

	pem := d.Key
	if len(pem) == 0 {
		data, err := os.ReadFile(d.KeyPath) //nolint:gosec // G304: key path comes from the operator
		if err != nil {
			return nil, fmt.Errorf("%w: read private key %s: %v", domain.ErrValidation, d.KeyPath, err)
		}
		pem = data
	}

	var (
		signer ssh.Signer
		err    error
	)
	if d.Passphrase != "" {
		signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(d.Passphrase))
	} else {
		signer, err = ssh.ParsePrivateKey(pem)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: parse private key: %v", domain.ErrValidation, err)
	}
	return []ssh.AuthMethod{ssh.PublicKeys(signer)}, nil
}

// hostKeyCallback verifies against a known_hosts file, or accepts any key
// when no file is configured.
func hostKeyCallback(knownHostsFile string) (ssh.HostKeyCallback, error) {
	if knownHostsFile == "" {
		slog.Warn("ssh host key verification disabled; set ssh.known_hosts_file to enable it")
		return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // G106: explicit operator choice
	}
	cb, err := knownhosts.New(knownHostsFile)
	if err != nil {
		return nil, fmt.Errorf("%w: known hosts %s: %v", domain.ErrValidation, knownHostsFile, err)
	}
	return cb, nil
}
