package keyvault

import (
	"encoding/json"

	"github.com/ruteri/tee-enclave-bootstrap/cryptoutils"
	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// Domain-separation labels for master key derivation. Changing any of
// these breaks every deployed network; treat them as wire constants.
const (
	labelSeedExchange   = "consensus/seed-exchange-keypair"
	labelIOExchange     = "consensus/io-exchange-keypair"
	labelStateIKM       = "consensus/state-ikm"
	labelCallbackSecret = "consensus/callback-secret"
)

// MasterKeys is the key set every validating enclave derives identically
// from the shared current seed. It is a regenerable cache: whenever the
// current seed changes the set must be derived again.
type MasterKeys struct {
	// SeedExchange is the published identity of this chain's derived key
	// set. Seed exchange with peers runs over registration keys.
	SeedExchange *cryptoutils.KeyPair

	// IOExchange protects user transaction data elsewhere in the system.
	IOExchange *cryptoutils.KeyPair

	// StateIKM is input key material for per-contract state encryption.
	StateIKM [interfaces.SeedSize]byte

	// CallbackSecret authenticates inter-contract callbacks.
	CallbackSecret [interfaces.SeedSize]byte
}

// DeriveMasterKeys deterministically derives the master key set from the
// current consensus seed. The same seed always yields the same keys.
func DeriveMasterKeys(current interfaces.Seed) (*MasterKeys, error) {
	seedExchangeSecret, err := cryptoutils.DeriveKey(current.Bytes(), nil, labelSeedExchange)
	if err != nil {
		return nil, err
	}
	ioExchangeSecret, err := cryptoutils.DeriveKey(current.Bytes(), nil, labelIOExchange)
	if err != nil {
		return nil, err
	}
	stateIKM, err := cryptoutils.DeriveKey(current.Bytes(), nil, labelStateIKM)
	if err != nil {
		return nil, err
	}
	callbackSecret, err := cryptoutils.DeriveKey(current.Bytes(), nil, labelCallbackSecret)
	if err != nil {
		return nil, err
	}

	seedExchange, err := cryptoutils.KeyPairFromSecret(seedExchangeSecret)
	if err != nil {
		return nil, err
	}
	ioExchange, err := cryptoutils.KeyPairFromSecret(ioExchangeSecret)
	if err != nil {
		return nil, err
	}

	return &MasterKeys{
		SeedExchange:   seedExchange,
		IOExchange:     ioExchange,
		StateIKM:       stateIKM,
		CallbackSecret: callbackSecret,
	}, nil
}

// MasterPublicKeys is the exportable public half of the master key set,
// published on-chain so registering nodes can address this network.
type MasterPublicKeys struct {
	SeedExchangePubkey string `json:"seed_exchange_pubkey"`
	IOExchangePubkey   string `json:"io_exchange_pubkey"`
}

// PublicKeys extracts the exportable public components.
func (mk *MasterKeys) PublicKeys() MasterPublicKeys {
	return MasterPublicKeys{
		SeedExchangePubkey: mk.SeedExchange.Public().String(),
		IOExchangePubkey:   mk.IOExchange.Public().String(),
	}
}

// MarshalJSON renders the export format written to the untrusted sink.
func (mpk MasterPublicKeys) MarshalJSON() ([]byte, error) {
	type alias MasterPublicKeys
	return json.Marshal(alias(mpk))
}
