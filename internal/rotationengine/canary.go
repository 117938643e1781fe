package rotationengine

import (
	"context"
	"crypto/rand"
	"math/big"
)

// CanaryAsset is one representative asset sampled for canary testing: a
// URL identifying it and the signature it carries today under the key
// being rotated away from.
type CanaryAsset struct {
	URL    string
	OldSig []byte
}

// CanarySampler selects the representative sample of assets re-signed
// with the new key before cutover. Sampling is implementation-chosen per
// spec.md §4.2; this package supplies a uniform-random sampler plus a
// deterministic one tests can pin.
type CanarySampler interface {
	Sample(ctx context.Context, tenantID string, count int) ([]CanaryAsset, error)
}

// AssetSource is the external collaborator CanarySampler implementations
// draw from: the full population of assets signed under a tenant's key,
// along with each asset's currently archived signature.
type AssetSource interface {
	ListSignedAssets(ctx context.Context, tenantID string) ([]CanaryAsset, error)
}

// UniformSampler picks count assets from AssetSource uniformly at random
// without replacement, mirroring pkg/rotation/random.go's crypto/rand
// usage for secret generation rather than reaching for math/rand for a
// security-relevant sampling decision.
type UniformSampler struct {
	Assets AssetSource
}

// NewUniformSampler returns a CanarySampler backed by assets.
func NewUniformSampler(assets AssetSource) *UniformSampler {
	return &UniformSampler{Assets: assets}
}

func (s *UniformSampler) Sample(ctx context.Context, tenantID string, count int) ([]CanaryAsset, error) {
	all, err := s.Assets.ListSignedAssets(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if count <= 0 || count >= len(all) {
		return all, nil
	}

	pool := make([]CanaryAsset, len(all))
	copy(pool, all)

	picked := make([]CanaryAsset, 0, count)
	for i := 0; i < count; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(pool))))
		if err != nil {
			return nil, err
		}
		idx := n.Int64()
		picked = append(picked, pool[idx])
		pool[idx] = pool[len(pool)-1]
		pool = pool[:len(pool)-1]
	}
	return picked, nil
}

// FixtureSampler returns a fixed, caller-supplied list regardless of
// count, for deterministic tests.
type FixtureSampler struct {
	Assets []CanaryAsset
}

func (s FixtureSampler) Sample(context.Context, string, int) ([]CanaryAsset, error) {
	return s.Assets, nil
}
