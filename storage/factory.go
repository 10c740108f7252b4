package storage

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// Factory creates storage backends from location URIs.
type Factory struct {
	log *slog.Logger
}

// NewFactory creates a backend factory using the given logger for the
// backends it builds.
func NewFactory(log *slog.Logger) *Factory {
	return &Factory{log: log}
}

// BackendFor creates a storage backend from a location URI.
//
// Supported schemes:
//   - file:// - local filesystem
//   - s3://   - Amazon S3 or compatible object storage
//   - ipfs:// - IPFS node, mutable files API
//   - vault://- HashiCorp Vault KV v2
//   - memory://- in-process map, for tests and simulation
//
// Returns ErrInvalidLocationURI if the URI is malformed or the scheme is
// unsupported.
func (f *Factory) BackendFor(locationURI string) (interfaces.Backend, error) {
	u, err := url.Parse(locationURI)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", interfaces.ErrInvalidLocationURI, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "file":
		return f.createFileBackend(u)
	case "s3":
		return f.createS3Backend(u)
	case "ipfs":
		return f.createIPFSBackend(u)
	case "vault":
		return f.createVaultBackend(u)
	case "memory":
		return NewMemoryBackend(), nil
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", interfaces.ErrInvalidLocationURI, u.Scheme)
	}
}

// createFileBackend creates a filesystem backend.
// URI format: file:///var/enclave/sealed
func (f *Factory) createFileBackend(u *url.URL) (interfaces.Backend, error) {
	dir := u.Path
	if u.Host != "" {
		dir = u.Host + u.Path
	}
	if dir == "" {
		return nil, fmt.Errorf("%w: file URI missing path", interfaces.ErrInvalidLocationURI)
	}
	return NewFileBackend(dir, f.log)
}

// createS3Backend creates an S3 backend.
// URI format: s3://[accessKey:secretKey@]bucket/prefix?region=...&endpoint=...
func (f *Factory) createS3Backend(u *url.URL) (interfaces.Backend, error) {
	bucket := u.Host
	if bucket == "" {
		return nil, fmt.Errorf("%w: s3 URI missing bucket", interfaces.ErrInvalidLocationURI)
	}

	prefix := strings.TrimPrefix(u.Path, "/")
	region := u.Query().Get("region")
	if region == "" {
		region = "us-east-1"
	}
	endpoint := u.Query().Get("endpoint")

	var accessKey, secretKey string
	if u.User != nil {
		accessKey = u.User.Username()
		secretKey, _ = u.User.Password()
	}

	return NewS3Backend(bucket, prefix, region, endpoint, accessKey, secretKey, f.log)
}

// createIPFSBackend creates an IPFS backend.
// URI format: ipfs://host:port/prefix
func (f *Factory) createIPFSBackend(u *url.URL) (interfaces.Backend, error) {
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("%w: ipfs URI missing host", interfaces.ErrInvalidLocationURI)
	}
	port := u.Port()
	if port == "" {
		port = "5001"
	}
	return NewIPFSBackend(host, port, u.Path, f.log)
}

// createVaultBackend creates a Vault KV backend.
// URI format: vault://host:port/mount/path?token=...&tls=true
func (f *Factory) createVaultBackend(u *url.URL) (interfaces.Backend, error) {
	if u.Host == "" {
		return nil, fmt.Errorf("%w: vault URI missing host", interfaces.ErrInvalidLocationURI)
	}

	parts := strings.SplitN(strings.Trim(u.Path, "/"), "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("%w: vault URI must include mount and data path", interfaces.ErrInvalidLocationURI)
	}

	scheme := "http"
	if u.Query().Get("tls") == "true" {
		scheme = "https"
	}
	address := fmt.Sprintf("%s://%s", scheme, u.Host)

	return NewVaultBackend(address, parts[0], parts[1], u.Query().Get("token"), f.log)
}
