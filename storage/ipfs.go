package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	shell "github.com/ipfs/go-ipfs-api"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// IPFSBackend implements a name-addressed store on an IPFS node using the
// mutable files (MFS) API, so records keep stable paths across updates.
type IPFSBackend struct {
	shell       *shell.Shell
	host        string
	port        string
	prefix      string
	log         *slog.Logger
	locationURI string
}

// NewIPFSBackend creates an IPFS storage backend connected to the node at
// host:port. Records live under the given MFS prefix directory.
func NewIPFSBackend(host, port, prefix string, log *slog.Logger) (*IPFSBackend, error) {
	apiURL := fmt.Sprintf("%s:%s", host, port)
	prefix = "/" + strings.Trim(prefix, "/")

	return &IPFSBackend{
		shell:       shell.NewShell(apiURL),
		host:        host,
		port:        port,
		prefix:      prefix,
		log:         log,
		locationURI: fmt.Sprintf("ipfs://%s%s", apiURL, prefix),
	}, nil
}

// Put writes data to the record's MFS path, creating parents as needed.
func (b *IPFSBackend) Put(ctx context.Context, name string, data []byte) error {
	if !b.shell.IsUp() {
		return interfaces.ErrBackendUnavailable
	}

	p := b.recordPath(name)
	err := b.shell.FilesWrite(ctx, p, bytes.NewReader(data),
		shell.FilesWrite.Create(true),
		shell.FilesWrite.Parents(true),
		shell.FilesWrite.Truncate(true))
	if err != nil {
		return fmt.Errorf("failed to write %s to IPFS: %w", p, err)
	}

	b.log.Debug("Stored record in IPFS",
		slog.String("path", p),
		slog.Int("size", len(data)))
	return nil
}

// Get reads the record's MFS path. Returns ErrRecordNotFound when the path
// does not exist and ErrBackendUnavailable when the node is unreachable.
func (b *IPFSBackend) Get(ctx context.Context, name string) ([]byte, error) {
	if !b.shell.IsUp() {
		return nil, interfaces.ErrBackendUnavailable
	}

	p := b.recordPath(name)
	reader, err := b.shell.FilesRead(ctx, p)
	if err != nil {
		if isIPFSNotFound(err) {
			return nil, interfaces.ErrRecordNotFound
		}
		return nil, fmt.Errorf("failed to read %s from IPFS: %w", p, err)
	}
	defer reader.Close()

	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, fmt.Errorf("failed to read IPFS response: %w", err)
	}
	return data, nil
}

// Has stats the record's MFS path.
func (b *IPFSBackend) Has(ctx context.Context, name string) (bool, error) {
	if !b.shell.IsUp() {
		return false, interfaces.ErrBackendUnavailable
	}

	p := b.recordPath(name)
	if _, err := b.shell.FilesStat(ctx, p); err != nil {
		if isIPFSNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat %s in IPFS: %w", p, err)
	}
	return true, nil
}

// Delete removes the record's MFS path, reporting whether one existed.
func (b *IPFSBackend) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := b.Has(ctx, name)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	p := b.recordPath(name)
	if err := b.shell.FilesRm(ctx, p, true); err != nil {
		return false, fmt.Errorf("failed to remove %s from IPFS: %w", p, err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage backend.
func (b *IPFSBackend) Name() string {
	return fmt.Sprintf("ipfs-%s-%s", b.host, b.port)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *IPFSBackend) LocationURI() string {
	return b.locationURI
}

func (b *IPFSBackend) recordPath(name string) string {
	return path.Join(b.prefix, name)
}

func isIPFSNotFound(err error) bool {
	return strings.Contains(err.Error(), "does not exist") ||
		strings.Contains(err.Error(), "no link named")
}
