// Package canarysource implements rotationengine.AssetSource against an
// HTTP inventory endpoint, the same plain net/http-plus-encoding/json
// shape the notify package's webhook provider uses for outbound calls.
package canarysource

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/systmms/signctl/internal/ctlerrors"
	"github.com/systmms/signctl/internal/rotationengine"
)

// assetDTO is the wire shape returned by the inventory endpoint: one
// signed asset and the hex-encoded signature currently archived for it.
type assetDTO struct {
	URL          string `json:"url"`
	OldSignature string `json:"old_signature_hex,omitempty"`
}

// HTTPSource lists a tenant's signed-asset inventory from a single HTTP
// endpoint, queried as GET {BaseURL}?tenant={tenantID}.
type HTTPSource struct {
	BaseURL string
	Client  *http.Client
}

// NewHTTPSource returns an HTTPSource with a bounded request timeout.
func NewHTTPSource(baseURL string) *HTTPSource {
	return &HTTPSource{
		BaseURL: baseURL,
		Client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPSource) ListSignedAssets(ctx context.Context, tenantID string) ([]rotationengine.CanaryAsset, error) {
	const op = "canarysource.ListSignedAssets"

	u, err := url.Parse(s.BaseURL)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
	}
	q := u.Query()
	q.Set("tenant", tenantID)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
	}

	resp, err := s.Client.Do(req)
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, op, err).WithTenant(tenantID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, ctlerrors.New(ctlerrors.BackendUnavailable, op, fmt.Sprintf("inventory endpoint returned %d", resp.StatusCode)).WithTenant(tenantID)
	}

	var dtos []assetDTO
	if err := json.NewDecoder(resp.Body).Decode(&dtos); err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
	}

	assets := make([]rotationengine.CanaryAsset, 0, len(dtos))
	for _, d := range dtos {
		asset := rotationengine.CanaryAsset{URL: d.URL}
		if d.OldSignature != "" {
			sig, err := hex.DecodeString(d.OldSignature)
			if err != nil {
				return nil, ctlerrors.Wrap(ctlerrors.InvalidInput, op, err).WithTenant(tenantID)
			}
			asset.OldSig = sig
		}
		assets = append(assets, asset)
	}
	return assets, nil
}
