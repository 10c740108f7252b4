package attestation

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	tdx_client "github.com/google/go-tdx-guest/client"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// ReportProvider produces raw hardware reports for the EPID flow, bound to
// 64 bytes of caller-chosen report data. The api key authenticates with
// the signing infrastructure; providers without an authentication step
// ignore it.
type ReportProvider interface {
	Report(reportData [64]byte, apiKey []byte) ([]byte, error)
}

// QuoteProvider produces ECDSA quotes for the DCAP flow.
type QuoteProvider interface {
	RawQuote(reportData [64]byte) ([]byte, error)
}

// CollateralFetcher retrieves the verification collateral matching a quote.
type CollateralFetcher interface {
	Collateral(ctx context.Context, quote []byte) ([]byte, error)
}

// HardwareQuoteProvider obtains quotes from the platform quoting device,
// preferring the configfs interface and falling back to the legacy device.
type HardwareQuoteProvider struct{}

// RawQuote requests a quote bound to reportData from the platform.
func (HardwareQuoteProvider) RawQuote(reportData [64]byte) ([]byte, error) {
	qp := &tdx_client.LinuxConfigFsQuoteProvider{}
	if qp.IsSupported() == nil {
		return qp.GetRawQuote(reportData)
	}

	qd, err := tdx_client.OpenDevice()
	if err != nil {
		return nil, err
	}
	defer qd.Close()

	return tdx_client.GetRawQuote(qd, reportData)
}

// RemoteReportProvider obtains EPID-style reports from a remote signing
// service, for platforms without a local report-generation path.
type RemoteReportProvider struct {
	Address string
}

// Report requests a report bound to reportData from the remote service,
// authenticating with the api key as the subscription header.
func (p *RemoteReportProvider) Report(reportData [64]byte, apiKey []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/report/%s", p.Address, hex.EncodeToString(reportData[:]))
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	if len(apiKey) > 0 {
		req.Header.Set("Ocp-Apim-Subscription-Key", string(apiKey))
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling remote report provider: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("remote report provider returned status %d: %s", resp.StatusCode, string(body))
	}

	report, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading report from response: %w", err)
	}
	return report, nil
}

// UnavailableReportProvider stands in when no EPID report source is
// configured; every request fails.
type UnavailableReportProvider struct{}

// Report always fails.
func (UnavailableReportProvider) Report([64]byte, []byte) ([]byte, error) {
	return nil, fmt.Errorf("%w: no EPID report source configured", interfaces.ErrAttestationFailure)
}

// RemoteCollateralFetcher retrieves collateral from a caching collateral
// service fronting the provisioning certification infrastructure.
type RemoteCollateralFetcher struct {
	Address string
}

// Collateral fetches the collateral bundle for a quote.
func (f *RemoteCollateralFetcher) Collateral(ctx context.Context, quote []byte) ([]byte, error) {
	url := fmt.Sprintf("%s/collateral", f.Address)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(quote))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/octet-stream")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("calling collateral service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("collateral service returned status %d: %s", resp.StatusCode, string(body))
	}

	collateral, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading collateral from response: %w", err)
	}
	return collateral, nil
}

// SimulatedEvidence mirrors the layout of a hardware report closely
// enough for local inspection: measurement, signer, security version and
// the caller's report data, authenticated with the simulation key.
type SimulatedEvidence struct {
	Measurement [32]byte
	Signer      [32]byte
	ISVSVN      uint16
	ReportData  [64]byte
}

// SimulatedProvider fabricates deterministic report and quote structures
// for simulation-mode enclaves and tests. Evidence is keyed with the
// configured simulation secret so tampering is still detectable.
type SimulatedProvider struct {
	Measurement [32]byte
	Signer      [32]byte
	ISVSVN      uint16
	Secret      []byte
}

// Report fabricates an EPID-style report bound to reportData. Simulation
// has no signing infrastructure, so the api key is ignored.
func (p *SimulatedProvider) Report(reportData [64]byte, _ []byte) ([]byte, error) {
	return p.evidence("simulated-epid-report", reportData), nil
}

// RawQuote fabricates a DCAP-style quote bound to reportData.
func (p *SimulatedProvider) RawQuote(reportData [64]byte) ([]byte, error) {
	return p.evidence("simulated-dcap-quote", reportData), nil
}

// Collateral fabricates a collateral bundle for a simulated quote.
func (p *SimulatedProvider) Collateral(ctx context.Context, quote []byte) ([]byte, error) {
	mac := hmac.New(sha256.New, p.Secret)
	mac.Write([]byte("simulated-collateral"))
	mac.Write(quote)
	return mac.Sum([]byte("COLLATERAL|")), nil
}

func (p *SimulatedProvider) evidence(kind string, reportData [64]byte) []byte {
	body := SimulatedEvidence{
		Measurement: p.Measurement,
		Signer:      p.Signer,
		ISVSVN:      p.ISVSVN,
		ReportData:  reportData,
	}

	var buf bytes.Buffer
	buf.WriteString(kind)
	buf.WriteByte('|')
	binary.Write(&buf, binary.LittleEndian, body)

	mac := hmac.New(sha256.New, p.Secret)
	mac.Write(buf.Bytes())
	return mac.Sum(buf.Bytes())
}

// ParseSimulatedEvidence decodes the body of simulated evidence for
// diagnostic output. Returns ErrInvalidInput for foreign evidence.
func ParseSimulatedEvidence(evidence []byte) (*SimulatedEvidence, error) {
	idx := bytes.IndexByte(evidence, '|')
	if idx < 0 {
		return nil, fmt.Errorf("%w: not simulated evidence", interfaces.ErrInvalidInput)
	}

	var body SimulatedEvidence
	r := bytes.NewReader(evidence[idx+1:])
	if err := binary.Read(r, binary.LittleEndian, &body); err != nil {
		return nil, fmt.Errorf("%w: truncated evidence body", interfaces.ErrInvalidInput)
	}
	return &body, nil
}
