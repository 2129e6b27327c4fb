package sftpd

import (
	"crypto/rand"
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"github.com/go-pkgz/lgr"
	"golang.org/x/crypto/ssh"
)

// loadOrGenerateHostKey loads keyFile if present, generating and
// persisting a fresh RSA-2048 host key otherwise. Carried over from
// umputun/weblist's server.loadOrGenerateHostKey nearly verbatim, since
// host key persistence is orthogonal to everything else a listener does
// — only the per-listener keying (one file per listener, see Server.Run)
// is new.
func loadOrGenerateHostKey(keyFile string) (ssh.Signer, error) {
	if keyFile == "" {
		return nil, fmt.Errorf("empty key file path")
	}

	// #nosec G304 - keyFile is controlled by application configuration
	if keyData, err := os.ReadFile(keyFile); err == nil {
		if hostKey, err := ssh.ParsePrivateKey(keyData); err == nil {
			lgr.Printf("[INFO] using existing SSH host key from %s", keyFile)
			return hostKey, nil
		}
		lgr.Printf("[WARN] failed to parse existing host key %s, regenerating", keyFile)
	}

	lgr.Printf("[INFO] generating new SSH host key at %s", keyFile)
	key, err := rsa.GenerateKey(rand.Reader, 2048)
	if err != nil {
		return nil, fmt.Errorf("generate RSA key: %w", err)
	}
	keyData := pem.EncodeToMemory(&pem.Block{
		Type:  "RSA PRIVATE KEY",
		Bytes: x509.MarshalPKCS1PrivateKey(key),
	})

	if err := os.MkdirAll(filepath.Dir(keyFile), 0o755); err != nil {
		lgr.Printf("[WARN] could not create host key directory for %s: %v", keyFile, err)
	}
	// #nosec G304 - keyFile is controlled by application configuration
	if err := os.WriteFile(keyFile, keyData, 0o600); err != nil {
		lgr.Printf("[WARN] could not persist SSH host key to %s: %v", keyFile, err)
	}

	hostKey, err := ssh.ParsePrivateKey(keyData)
	if err != nil {
		return nil, fmt.Errorf("parse generated host key: %w", err)
	}
	return hostKey, nil
}
