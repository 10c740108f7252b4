// Package attestation produces the hardware evidence that binds an
// enclave's public key to its measurements, under two schemes: EPID
// (group-signature report wrapped in a self-signed certificate) and DCAP
// (ECDSA quote plus verification collateral). Both outputs are combined
// into a single artifact with a fixed 12-byte size header so verifiers can
// consume whichever scheme they support.
//
// Hardware access is abstracted behind ReportProvider and QuoteProvider so
// the same code runs against real quoting devices, a remote quoting
// service, or the in-process simulators used in tests.
package attestation
