package storage

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/vault/api"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// VaultBackend implements a name-addressed store on HashiCorp Vault KV v2.
// Records are stored base64-encoded under mountPath/data/dataPath/name.
type VaultBackend struct {
	client      *api.Client
	mountPath   string
	dataPath    string
	log         *slog.Logger
	locationURI string
}

// NewVaultBackend creates a Vault storage backend. The token, if set, is
// used for authentication; otherwise the client relies on its environment.
func NewVaultBackend(address, mountPath, dataPath, token string, log *slog.Logger) (*VaultBackend, error) {
	config := api.DefaultConfig()
	config.Address = address
	config.HttpClient = &http.Client{Timeout: 30 * time.Second}

	client, err := api.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	if token != "" {
		client.SetToken(token)
	}

	mountPath = strings.Trim(mountPath, "/")
	dataPath = strings.Trim(dataPath, "/")

	return &VaultBackend{
		client:      client,
		mountPath:   mountPath,
		dataPath:    dataPath,
		log:         log,
		locationURI: fmt.Sprintf("vault://%s/%s/%s", address, mountPath, dataPath),
	}, nil
}

// Put writes the record as a KV v2 secret.
func (b *VaultBackend) Put(ctx context.Context, name string, data []byte) error {
	secret := map[string]interface{}{
		"data": map[string]interface{}{
			"value": base64.StdEncoding.EncodeToString(data),
		},
	}

	if _, err := b.client.Logical().WriteWithContext(ctx, b.secretPath(name), secret); err != nil {
		return fmt.Errorf("failed to write secret %s: %w", name, err)
	}

	b.log.Debug("Stored record in Vault",
		slog.String("name", name),
		slog.Int("size", len(data)))
	return nil
}

// Get reads the record's KV v2 secret. Returns ErrRecordNotFound when the
// secret is absent or was deleted.
func (b *VaultBackend) Get(ctx context.Context, name string) ([]byte, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(name))
	if err != nil {
		return nil, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	if secret == nil || secret.Data == nil {
		return nil, interfaces.ErrRecordNotFound
	}

	inner, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return nil, interfaces.ErrRecordNotFound
	}
	encoded, ok := inner["value"].(string)
	if !ok {
		return nil, fmt.Errorf("secret %s has unexpected shape", name)
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("failed to decode secret %s: %w", name, err)
	}
	return data, nil
}

// Has reports whether the record's secret exists.
func (b *VaultBackend) Has(ctx context.Context, name string) (bool, error) {
	secret, err := b.client.Logical().ReadWithContext(ctx, b.secretPath(name))
	if err != nil {
		return false, fmt.Errorf("failed to read secret %s: %w", name, err)
	}
	return secret != nil && secret.Data != nil, nil
}

// Delete removes all versions of the record's secret.
func (b *VaultBackend) Delete(ctx context.Context, name string) (bool, error) {
	existed, err := b.Has(ctx, name)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	metaPath := fmt.Sprintf("%s/metadata/%s/%s", b.mountPath, b.dataPath, name)
	if _, err := b.client.Logical().DeleteWithContext(ctx, metaPath); err != nil {
		return false, fmt.Errorf("failed to delete secret %s: %w", name, err)
	}
	return true, nil
}

// Name returns a unique identifier for this storage backend.
func (b *VaultBackend) Name() string {
	return fmt.Sprintf("vault-%s", b.mountPath)
}

// LocationURI returns the URI that identifies this storage backend.
func (b *VaultBackend) LocationURI() string {
	return b.locationURI
}

func (b *VaultBackend) secretPath(name string) string {
	return fmt.Sprintf("%s/data/%s/%s", b.mountPath, b.dataPath, name)
}
