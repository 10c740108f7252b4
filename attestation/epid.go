package attestation

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"encoding/hex"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// OIDEnclaveReport marks the certificate extension carrying the raw
// hardware report inside an EPID attestation certificate.
var OIDEnclaveReport = asn1.ObjectIdentifier{1, 3, 6, 1, 4, 1, 66704, 98645, 21}

// EPIDAttestor produces group-signature attestation evidence. The hardware
// report is bound to the attested public key and wrapped in a self-signed
// certificate so verifiers receive a single parseable structure.
type EPIDAttestor struct {
	reports ReportProvider
	log     *slog.Logger
}

// NewEPIDAttestor creates an attestor over the given report provider.
func NewEPIDAttestor(reports ReportProvider, log *slog.Logger) *EPIDAttestor {
	return &EPIDAttestor{reports: reports, log: log}
}

// BuildReport requests a hardware report with pubkey in the first half of
// the report data and wraps it in a self-signed certificate carrying the
// report as an extension. The api key authenticates the quoting request
// with the signing infrastructure; an empty key selects unlinkable
// signatures. Returns the DER certificate bytes.
func (a *EPIDAttestor) BuildReport(pubkey interfaces.PublicKey, apiKey []byte) ([]byte, error) {
	var reportData [64]byte
	copy(reportData[:32], pubkey.Bytes())

	report, err := a.reports.Report(reportData, apiKey)
	if err != nil {
		return nil, fmt.Errorf("%w: epid report: %v", interfaces.ErrAttestationFailure, err)
	}
	a.inspectReport(report)

	cert, err := wrapReportInCertificate(report, pubkey)
	if err != nil {
		return nil, fmt.Errorf("%w: epid certificate: %v", interfaces.ErrAttestationFailure, err)
	}

	a.log.Debug("Built EPID attestation certificate",
		slog.Int("report_bytes", len(report)),
		slog.Int("cert_bytes", len(cert)),
		slog.Bool("linkable", len(apiKey) > 0))
	return cert, nil
}

// inspectReport logs the decoded report body when the evidence format
// supports local inspection. Hardware reports are opaque here and skipped.
func (a *EPIDAttestor) inspectReport(report []byte) {
	body, err := ParseSimulatedEvidence(report)
	if err != nil {
		return
	}
	a.log.Debug("Report decode",
		slog.String("measurement", hex.EncodeToString(body.Measurement[:])),
		slog.String("signer", hex.EncodeToString(body.Signer[:])),
		slog.Uint64("isv_svn", uint64(body.ISVSVN)))
}

// wrapReportInCertificate builds a short-lived self-signed certificate
// whose only purpose is transporting the report; the throwaway signing key
// is discarded after issuance. Verifiers trust the embedded report, not
// the certificate chain.
func wrapReportInCertificate(report []byte, pubkey interfaces.PublicKey) ([]byte, error) {
	signer, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	if err != nil {
		return nil, err
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, err
	}

	now := time.Now()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: pubkey.String(),
		},
		NotBefore: now,
		NotAfter:  now.Add(24 * time.Hour),
		ExtraExtensions: []pkix.Extension{{
			Id:    OIDEnclaveReport,
			Value: report,
		}},
	}

	return x509.CreateCertificate(rand.Reader, template, template, signer.Public(), signer)
}

// ReportFromCertificate extracts the raw hardware report from an EPID
// attestation certificate. Returns ErrInvalidInput when the certificate
// does not carry a report extension.
func ReportFromCertificate(certDER []byte) ([]byte, error) {
	cert, err := x509.ParseCertificate(certDER)
	if err != nil {
		return nil, fmt.Errorf("%w: parsing attestation certificate: %v", interfaces.ErrInvalidInput, err)
	}
	for _, ext := range cert.Extensions {
		if ext.Id.Equal(OIDEnclaveReport) {
			return ext.Value, nil
		}
	}
	return nil, fmt.Errorf("%w: certificate carries no enclave report", interfaces.ErrInvalidInput)
}
