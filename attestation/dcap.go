package attestation

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ruteri/tee-enclave-bootstrap/interfaces"
)

// DCAPAttestor produces ECDSA quote evidence plus the verification
// collateral a verifier needs to check it without contacting the
// provisioning infrastructure itself.
type DCAPAttestor struct {
	quotes     QuoteProvider
	collateral CollateralFetcher
	log        *slog.Logger
}

// NewDCAPAttestor creates an attestor over the given quote provider and
// collateral fetcher. A nil fetcher disables collateral retrieval and the
// artifact carries a zero-length collateral section.
func NewDCAPAttestor(quotes QuoteProvider, collateral CollateralFetcher, log *slog.Logger) *DCAPAttestor {
	return &DCAPAttestor{quotes: quotes, collateral: collateral, log: log}
}

// BuildReport requests a quote bound to pubkey and fetches its matching
// collateral. Collateral failure fails the whole call: a quote nobody can
// verify is not usable evidence.
func (a *DCAPAttestor) BuildReport(ctx context.Context, pubkey interfaces.PublicKey) (quote, collateral []byte, err error) {
	var reportData [64]byte
	copy(reportData[:32], pubkey.Bytes())

	quote, err = a.quotes.RawQuote(reportData)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: dcap quote: %v", interfaces.ErrAttestationFailure, err)
	}

	if a.collateral != nil {
		collateral, err = a.collateral.Collateral(ctx, quote)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: dcap collateral: %v", interfaces.ErrAttestationFailure, err)
		}
	}

	a.log.Debug("Built DCAP quote",
		slog.Int("quote_bytes", len(quote)),
		slog.Int("collateral_bytes", len(collateral)))
	return quote, collateral, nil
}
