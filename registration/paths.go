package registration

import "github.com/ruteri/tee-enclave-bootstrap/keyvault"

// Export artifact names written to the untrusted sink. External tooling
// picks these up by name; renaming any of them breaks host integrations.
const (
	// ExportCombined is the combined attestation artifact for standard
	// registration.
	ExportCombined = "attestation_combined.bin"

	// ExportCombinedMigration is the combined artifact for migration-mode
	// reports. Kept separate so an upgrade run never overwrites a pending
	// registration artifact.
	ExportCombinedMigration = "migration_attestation_combined.bin"

	// ExportEPIDCert, ExportDCAPQuote and ExportDCAPCollateral are the
	// per-scheme side artifacts written best-effort next to the combined
	// file on standard registration.
	ExportEPIDCert       = "attestation_cert.der"
	ExportDCAPQuote      = "attestation_dcap.quote"
	ExportDCAPCollateral = "attestation_dcap.collateral"

	// ExportPubkey is the attested public key, hex-encoded. Never written
	// by migration-mode reports.
	ExportPubkey = "pubkey.hex"

	// ExportSeedResponse is the re-encrypted seed blob a joining node
	// leaves for the initiating side to pick up.
	ExportSeedResponse = "seed_exchange_response.bin"

	// ExportMasterPubkeys is the master public key set as JSON.
	ExportMasterPubkeys = "master_pubkeys.json"
)

// Auxiliary sealed records that participate in storage migration alongside
// the vault's own records. They belong to other subsystems; migration only
// rewrites their sealing format.
const (
	recordREK               = "rek.sealed"
	recordInitialRandomness = "initial-randomness.sealed"
	recordValidatorSet      = "validator-set.sealed"
	recordTxBytes           = "tx-bytes.sealed"
)

// migrationRecords is the fixed, ordered list of sealed records visited by
// a storage migration run. Absent records are skipped; order is stable so
// a failed run can be diagnosed by how far it got.
var migrationRecords = []string{
	keyvault.RecordRegistrationKey,
	keyvault.RecordSeedGenesis,
	keyvault.RecordSeedCurrent,
	keyvault.RecordMasterPubkeys,
	recordREK,
	recordInitialRandomness,
	recordValidatorSet,
	recordTxBytes,
}
