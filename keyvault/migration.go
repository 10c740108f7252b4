package keyvault

import (
	"github.com/ruteri/tee-enclave-bootstrap/cryptoutils"
	"github.com/ruteri/tee-enclave-bootstrap/sealing"
)

// Labels filling the hardware key-request slot for the two halves of the
// migration key. Wire constants; every enclave build of the same identity
// derives the same key pair from them.
const (
	migrationKeyLabel1 = "migrate.1"
	migrationKeyLabel2 = "migrate.2"
)

// MigrationKeyPair derives the upgrade-report key pair from hardware
// sealing entropy. It has no persisted state: the same enclave identity
// recomputes the same pair on demand, independent of the consensus seed.
func MigrationKeyPair(keys sealing.KeyProvider) (*cryptoutils.KeyPair, error) {
	var secret [32]byte
	half1 := keys.DeriveKey(migrationKeyLabel1)
	half2 := keys.DeriveKey(migrationKeyLabel2)
	copy(secret[:16], half1[:])
	copy(secret[16:], half2[:])

	return cryptoutils.KeyPairFromSecret(secret)
}
