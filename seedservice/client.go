// Package seedservice implements the client side of the remote
// seed-issuing service. The service returns the active current seed
// encrypted to the requester's registration key in the standard
// single-seed ciphertext format; the client decrypts it locally so the
// plaintext seed never crosses the host in the clear.
package seedservice

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/keyvault"
	"github.com/ruteri/tee-enclave-bootstrap/seedexchange"
)

// Client talks to a remote seed service over HTTP and implements
// interfaces.SeedService.
type Client struct {
	// Address is the service base URL.
	Address string

	// ServicePubkey is the service's published seed-exchange public key,
	// used to decrypt the returned seed.
	ServicePubkey interfaces.PublicKey

	// Vault supplies the registration key the response is addressed to.
	Vault *keyvault.Vault

	// HTTPClient overrides http.DefaultClient when set.
	HTTPClient *http.Client

	Log *slog.Logger
}

type nextSeedRequest struct {
	PublicKey   string `json:"public_key"`
	NodeIndex   uint32 `json:"node_index"`
	Genesis     string `json:"genesis_seed"`
	APIKey      string `json:"api_key,omitempty"`
	SeedVersion uint32 `json:"seed_version"`
}

type nextSeedResponse struct {
	EncryptedSeed string `json:"encrypted_seed"`
}

// NextSeed requests the active current seed from the service and decrypts
// it with the vault's registration key. The req.PublicKey must match the
// vault's registration public key or decryption fails.
func (c *Client) NextSeed(ctx context.Context, req interfaces.NextSeedRequest) (interfaces.Seed, error) {
	body, err := json.Marshal(nextSeedRequest{
		PublicKey:   req.PublicKey.String(),
		NodeIndex:   req.NodeIndex,
		Genesis:     hex.EncodeToString(req.Genesis.Bytes()),
		APIKey:      string(req.APIKey),
		SeedVersion: req.SeedVersion,
	})
	if err != nil {
		return interfaces.Seed{}, fmt.Errorf("encoding seed request: %w", err)
	}

	url := fmt.Sprintf("%s/seed", c.Address)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return interfaces.Seed{}, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := c.HTTPClient
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return interfaces.Seed{}, fmt.Errorf("calling seed service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return interfaces.Seed{}, fmt.Errorf("seed service returned status %d: %s", resp.StatusCode, string(msg))
	}

	var parsed nextSeedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return interfaces.Seed{}, fmt.Errorf("%w: decoding seed response: %v", interfaces.ErrInvalidInput, err)
	}
	ciphertext, err := hex.DecodeString(parsed.EncryptedSeed)
	if err != nil {
		return interfaces.Seed{}, fmt.Errorf("%w: seed response is not hex: %v", interfaces.ErrInvalidInput, err)
	}

	seed, err := seedexchange.DecryptSeed(ctx, c.Vault, c.ServicePubkey, ciphertext)
	if err != nil {
		return interfaces.Seed{}, fmt.Errorf("decrypting service seed: %w", err)
	}

	c.Log.Debug("Received current seed from seed service",
		slog.Uint64("node_index", uint64(req.NodeIndex)),
		slog.Uint64("seed_version", uint64(req.SeedVersion)))
	return seed, nil
}
