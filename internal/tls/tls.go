// Package tls builds the HTTPS configuration of the API server.
package tls

import (
	"crypto/tls"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/loykin/svcmon/internal/config"
)

// File names used inside [server.tls] dir.
const (
	certName = "tls.crt"
	keyName  = "tls.key"
)

// Setup returns the server TLS configuration, or nil when TLS is off.
// cert_file/key_file win over dir. With auto_generate a self-signed pair is
// written into dir when it holds none. The pair is loaded once here so a bad
// pair fails at startup, and again whenever either file changes on disk.
func Setup(s config.ServerConfig) (*tls.Config, error) {
	t := s.TLS
	if t == nil || !t.Enabled {
		return nil, nil
	}
	minVer, err := version(s.TLSMinVersion)
	if err != nil {
		return nil, fmt.Errorf("tls_min_version: %w", err)
	}
	maxVer, err := version(s.TLSMaxVersion)
	if err != nil {
		return nil, fmt.Errorf("tls_max_version: %w", err)
	}
	if minVer > maxVer {
		return nil, fmt.Errorf("tls_min_version %q is above tls_max_version %q", s.TLSMinVersion, s.TLSMaxVersion)
	}

	certPath, keyPath := t.CertFile, t.KeyFile
	if certPath == "" || keyPath == "" {
		if t.Dir == "" {
			return nil, errors.New("tls enabled without cert_file/key_file or dir")
		}
		certPath, keyPath = filepath.Join(t.Dir, certName), filepath.Join(t.Dir, keyName)
		if t.AutoGenerate && !exists(certPath, keyPath) {
			if err := selfSign(certPath, keyPath, t.AutoGen, time.Now()); err != nil {
				return nil, fmt.Errorf("generate certificate: %w", err)
			}
		}
	}

	kp := &keyPair{certPath: certPath, keyPath: keyPath}
	if _, err := kp.get(nil); err != nil {
		return nil, fmt.Errorf("load key pair: %w", err)
	}
	return &tls.Config{
		GetCertificate: kp.get,
		MinVersion:     minVer,
		MaxVersion:     maxVer,
	}, nil
}

// version maps a config value to a TLS version. Empty means 1.3.
func version(v string) (uint16, error) {
	switch strings.TrimPrefix(strings.ToLower(strings.TrimSpace(v)), "tls") {
	case "", "default", "1.3":
		return tls.VersionTLS13, nil
	case "1.2":
		return tls.VersionTLS12, nil
	default:
		return 0, fmt.Errorf("unsupported version %q (want 1.2 or 1.3)", v)
	}
}

func exists(paths ...string) bool {
	for _, p := range paths {
		if _, err := os.Stat(p); err != nil {
			return false
		}
	}
	return true
}

// keyPair serves the certificate at certPath/keyPath and reloads it when
// either file's modification time changes. A rotation that leaves the files
// unreadable or mismatched keeps the last good certificate in service.
type keyPair struct {
	certPath, keyPath string

	mu      sync.Mutex
	cert    *tls.Certificate
	certMod time.Time
	keyMod  time.Time
}

func (k *keyPair) get(*tls.ClientHelloInfo) (*tls.Certificate, error) {
	k.mu.Lock()
	defer k.mu.Unlock()
	certMod, keyMod, err := k.modTimes()
	if err == nil && k.cert != nil && certMod.Equal(k.certMod) && keyMod.Equal(k.keyMod) {
		return k.cert, nil
	}
	if err == nil {
		var c tls.Certificate
		c, err = tls.LoadX509KeyPair(k.certPath, k.keyPath)
		if err == nil {
			k.cert, k.certMod, k.keyMod = &c, certMod, keyMod
			return k.cert, nil
		}
	}
	if k.cert != nil {
		return k.cert, nil
	}
	return nil, err
}

func (k *keyPair) modTimes() (time.Time, time.Time, error) {
	ci, err := os.Stat(k.certPath)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	ki, err := os.Stat(k.keyPath)
	if err != nil {
		return time.Time{}, time.Time{}, err
	}
	return ci.ModTime(), ki.ModTime(), nil
}
