package attestation

import (
	"encoding/binary"
	"fmt"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// HeaderSize is the fixed size of the combined artifact's length header:
// three little-endian uint32 section lengths.
const HeaderSize = 12

// Artifact is the combined attestation output. Sections for schemes that
// were skipped are empty; an artifact with no sections at all is invalid
// and never produced by Combine.
type Artifact struct {
	EPIDCert   []byte
	Quote      []byte
	Collateral []byte
}

// Empty reports whether no scheme contributed any evidence.
func (a Artifact) Empty() bool {
	return len(a.EPIDCert) == 0 && len(a.Quote) == 0 && len(a.Collateral) == 0
}

// Encode serializes the artifact: 12-byte length header followed by the
// EPID certificate, the quote and the collateral, in that order. Wire
// format; verifiers parse this off-chain.
func (a Artifact) Encode() []byte {
	out := make([]byte, HeaderSize, HeaderSize+len(a.EPIDCert)+len(a.Quote)+len(a.Collateral))
	binary.LittleEndian.PutUint32(out[0:4], uint32(len(a.EPIDCert)))
	binary.LittleEndian.PutUint32(out[4:8], uint32(len(a.Quote)))
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(a.Collateral)))
	out = append(out, a.EPIDCert...)
	out = append(out, a.Quote...)
	out = append(out, a.Collateral...)
	return out
}

// ParseArtifact decodes a combined artifact, checking that the declared
// section lengths exactly account for the bytes that follow the header.
func ParseArtifact(raw []byte) (Artifact, error) {
	if len(raw) < HeaderSize {
		return Artifact{}, fmt.Errorf("%w: artifact is %d bytes, want at least %d", interfaces.ErrInvalidInput, len(raw), HeaderSize)
	}

	epidLen := int(binary.LittleEndian.Uint32(raw[0:4]))
	quoteLen := int(binary.LittleEndian.Uint32(raw[4:8]))
	collateralLen := int(binary.LittleEndian.Uint32(raw[8:12]))
	if epidLen < 0 || quoteLen < 0 || collateralLen < 0 ||
		len(raw) != HeaderSize+epidLen+quoteLen+collateralLen {
		return Artifact{}, fmt.Errorf("%w: artifact header declares %d+%d+%d bytes, body has %d",
			interfaces.ErrInvalidInput, epidLen, quoteLen, collateralLen, len(raw)-HeaderSize)
	}

	off := HeaderSize
	a := Artifact{
		EPIDCert:   raw[off : off+epidLen],
		Quote:      raw[off+epidLen : off+epidLen+quoteLen],
		Collateral: raw[off+epidLen+quoteLen:],
	}
	return a, nil
}

// SchemeResult carries one scheme's outcome into Combine. A scheme that
// was skipped has both a nil error and no payload; a scheme that ran and
// failed carries its error.
type SchemeResult struct {
	EPIDCert   []byte
	Quote      []byte
	Collateral []byte
	Err        error
}

// Combine merges the per-scheme outcomes into one artifact. Evidence from
// any scheme that succeeded is kept even when the other failed. When no
// scheme produced evidence the call fails with the EPID attempt's error,
// or a generic attestation failure if EPID was not attempted; an empty
// artifact is never a success.
func Combine(epid, dcap SchemeResult) (Artifact, error) {
	a := Artifact{
		EPIDCert:   epid.EPIDCert,
		Quote:      dcap.Quote,
		Collateral: dcap.Collateral,
	}
	if !a.Empty() {
		return a, nil
	}

	if epid.Err != nil {
		return Artifact{}, epid.Err
	}
	if dcap.Err != nil {
		return Artifact{}, fmt.Errorf("%w: %v", interfaces.ErrAttestationFailure, dcap.Err)
	}
	return Artifact{}, fmt.Errorf("%w: no attestation scheme produced evidence", interfaces.ErrAttestationFailure)
}
