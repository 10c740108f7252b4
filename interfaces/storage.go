package interfaces

import "context"

// Backend is a name-addressed byte store. Implementations persist opaque
// blobs outside the trust boundary; callers are responsible for encrypting
// anything secret before it reaches a backend.
type Backend interface {
	// Put stores data under name, overwriting any previous value.
	Put(ctx context.Context, name string, data []byte) error

	// Get retrieves the blob stored under name.
	// Returns ErrRecordNotFound if no such record exists.
	Get(ctx context.Context, name string) ([]byte, error)

	// Has reports whether a record exists under name.
	Has(ctx context.Context, name string) (bool, error)

	// Delete removes the record under name, reporting whether one existed.
	// A missing record is not an error.
	Delete(ctx context.Context, name string) (bool, error)

	// Name returns a short identifier for this backend instance.
	Name() string

	// LocationURI returns the URI this backend was created from.
	LocationURI() string
}

// SealedStore persists secrets bound to the current enclave identity.
// Records exist in either the legacy or the current sealing format;
// Migrate rewrites a single record from legacy to current in place.
type SealedStore interface {
	Seal(ctx context.Context, name string, plaintext []byte) error
	Unseal(ctx context.Context, name string) ([]byte, error)
	Exists(ctx context.Context, name string) (bool, error)
	Delete(ctx context.Context, name string) (bool, error)
	Migrate(ctx context.Context, name string) error
}

// SeedService is the remote seed-issuing service consulted when a node
// needs the active current seed and its peer did not supply one. The call
// is synchronous and surfaces failure immediately; retries belong to the
// caller's host, not this layer.
type SeedService interface {
	NextSeed(ctx context.Context, req NextSeedRequest) (Seed, error)
}

// NextSeedRequest carries everything the seed service needs to issue the
// current seed to a proven enclave.
type NextSeedRequest struct {
	// PublicKey is the key the service encrypts the returned seed to.
	PublicKey PublicKey

	// NodeIndex distinguishes the bootstrap node (0) from joining nodes.
	NodeIndex uint32

	// Genesis proves which chain the requester is sealed to.
	Genesis Seed

	// APIKey authenticates the request with the service.
	APIKey []byte

	// SeedVersion is the consensus seed protocol version.
	SeedVersion uint32
}
