package engine

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"os/exec"
	"strconv"

	"github.com/rill-lang/rillsec/internal/domain/capabilities"
	"github.com/rill-lang/rillsec/internal/domain/sandbox"
	"github.com/rill-lang/rillsec/internal/domain/values"
)

// Capability types the shim requires before performing each effect.
var (
	CapFilesystemRead  = values.MustNewCapabilityType("filesystem.read")
	CapFilesystemWrite = values.MustNewCapabilityType("filesystem.write")
	CapNetworkTCP      = values.MustNewCapabilityType("network.tcp")
	CapNetworkHTTPS    = values.MustNewCapabilityType("network.https")
	CapEnvRead         = values.MustNewCapabilityType("env.read")
	CapProcessExec     = values.MustNewCapabilityType("process.exec")
)

// Shim is the sanctioned effect path. Every method resolves the sandbox
// context bound to ctx (default-deny when none is bound), walks the
// chain for the required capability, consumes a use, and only then
// performs the effect. Denials surface as *capabilities.Violation or
// *capabilities.NotFoundError unchanged so callers can inspect the
// failing predicate.
type Shim struct {
	dialer net.Dialer
}

// NewShim creates a shim with default dial settings.
func NewShim() *Shim {
	return &Shim{}
}

// ReadFile reads a file under a filesystem.read capability. The token's
// MaxFileSize ceiling is checked against the open file before a use is
// consumed, so a ceiling denial does not burn a use from a usage-capped
// token. Denied paths are never opened.
func (s *Shim) ReadFile(ctx context.Context, path string) ([]byte, error) {
	token, err := sandbox.FromContext(ctx).Require(CapFilesystemRead)
	if err != nil {
		return nil, err
	}
	if err := token.Check(path, "read"); err != nil {
		return nil, err
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if max := token.Constraint().MaxFileSize; max > 0 && info.Size() > max {
		return nil, sizeViolation(token, path, "read", info.Size(), max)
	}

	if err := token.Use(path, "read"); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return data, nil
}

// WriteFile writes a file under a filesystem.write capability. The
// MaxFileSize ceiling is enforced on the payload before a use is
// consumed.
func (s *Shim) WriteFile(ctx context.Context, path string, data []byte) error {
	token, err := sandbox.FromContext(ctx).Require(CapFilesystemWrite)
	if err != nil {
		return err
	}
	if err := token.Check(path, "write"); err != nil {
		return err
	}
	if max := token.Constraint().MaxFileSize; max > 0 && int64(len(data)) > max {
		return sizeViolation(token, path, "write", int64(len(data)), max)
	}
	if err := token.Use(path, "write"); err != nil {
		return err
	}

	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

// OpenHost dials host:port under a network capability. scheme "tcp"
// requires network.tcp and returns a plain connection; scheme "https"
// requires network.https and performs a TLS handshake. Host patterns and
// the port allow-list are checked before the dial.
func (s *Shim) OpenHost(ctx context.Context, scheme, host string, port int) (net.Conn, error) {
	var capType values.CapabilityType
	switch scheme {
	case "tcp":
		capType = CapNetworkTCP
	case "https":
		capType = CapNetworkHTTPS
	default:
		return nil, fmt.Errorf("unsupported scheme %q", scheme)
	}

	token, err := sandbox.FromContext(ctx).Require(capType)
	if err != nil {
		return nil, err
	}
	if err := token.UseNetwork(host, port); err != nil {
		return nil, err
	}

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	conn, err := s.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to dial %s: %w", addr, err)
	}
	if scheme == "https" {
		tlsConn := tls.Client(conn, &tls.Config{ServerName: host})
		if err := tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake with %s failed: %w", addr, err)
		}
		return tlsConn, nil
	}
	return conn, nil
}

// Getenv reads one environment variable under an env.read capability.
// The variable name is the gated resource.
func (s *Shim) Getenv(ctx context.Context, key string) (string, error) {
	token, err := sandbox.FromContext(ctx).Require(CapEnvRead)
	if err != nil {
		return "", err
	}
	if err := token.Use(key, "read"); err != nil {
		return "", err
	}
	return os.Getenv(key), nil
}

// Exec runs a host program under a process.exec capability. argv[0] is
// the gated resource, so constraints can pin the allowed binaries.
func (s *Shim) Exec(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, fmt.Errorf("exec requires a program name")
	}
	token, err := sandbox.FromContext(ctx).Require(CapProcessExec)
	if err != nil {
		return nil, err
	}
	if err := token.Use(argv[0], "exec"); err != nil {
		return nil, err
	}

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return out, fmt.Errorf("failed to run %s: %w", argv[0], err)
	}
	return out, nil
}

func sizeViolation(token *capabilities.Token, resource, op string, size, max int64) error {
	return &capabilities.Violation{
		TokenID:        token.ID().String(),
		CapabilityType: token.Type(),
		Resource:       resource,
		Operation:      op,
		Reason:         capabilities.ReasonLimit,
		Detail:         fmt.Sprintf("%d bytes exceeds ceiling of %d", size, max),
	}
}
