package registration

import (
	"fmt"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
	"github.com/ruteri/tee-enclave-bootstrap/seedexchange"
)

// Raw host inputs are validated here, in one step, before anything else
// touches them. Everything past this file works with typed values only.

// validatePeerPublicKey converts a raw host-supplied public key buffer.
func validatePeerPublicKey(raw []byte) (interfaces.PublicKey, error) {
	pk, err := interfaces.NewPublicKeyFromBytes(raw)
	if err != nil {
		return interfaces.PublicKey{}, err
	}
	if pk.IsZero() {
		return interfaces.PublicKey{}, fmt.Errorf("%w: peer public key is all zeroes", interfaces.ErrInvalidInput)
	}
	return pk, nil
}

// validateSeedBlob checks the host's encrypted-seed buffer: the exact
// fixed buffer size first, then the length discriminator. Returns the
// ciphertexts the blob carries.
func validateSeedBlob(raw []byte) ([][]byte, error) {
	if len(raw) != seedexchange.InputBlobSize {
		return nil, fmt.Errorf("%w: seed buffer is %d bytes, want %d", interfaces.ErrInvalidInput, len(raw), seedexchange.InputBlobSize)
	}
	return seedexchange.SplitBlob(raw)
}

// validateReportFlags decodes the packed flag word and rejects
// combinations that cannot produce evidence.
func validateReportFlags(raw uint32) (interfaces.ReportFlags, error) {
	flags := interfaces.ParseReportFlags(raw)
	if err := flags.Validate(); err != nil {
		return interfaces.ReportFlags{}, fmt.Errorf("%w: %v", interfaces.ErrInvalidInput, err)
	}
	return flags, nil
}
