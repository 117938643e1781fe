package backend

import (
	"encoding/asn1"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systmms/signctl/internal/ctlerrors"
)

func TestRequireDigestRejectsWrongLength(t *testing.T) {
	err := requireDigest(make([]byte, 16))
	require.Error(t, err)
	assert.Equal(t, ctlerrors.Crypto, ctlerrors.KindOf(err))
}

func TestRequireDigestAcceptsSHA256Length(t *testing.T) {
	assert.NoError(t, requireDigest(make([]byte, 32)))
}

func TestEncodeDERRoundTripsRAndS(t *testing.T) {
	r := big.NewInt(12345)
	s := big.NewInt(67890)

	der, err := encodeDER(r, s)
	require.NoError(t, err)

	var decoded ecdsaSignature
	rest, err := asn1.Unmarshal(der, &decoded)
	require.NoError(t, err)
	assert.Empty(t, rest)
	assert.Equal(t, 0, r.Cmp(decoded.R))
	assert.Equal(t, 0, s.Cmp(decoded.S))
}

func TestRsToDERRejectsOddLength(t *testing.T) {
	_, err := rsToDER(make([]byte, 31))
	require.Error(t, err)
	assert.Equal(t, ctlerrors.Crypto, ctlerrors.KindOf(err))
}

func TestRsToDERSplitsRawSignatureInHalf(t *testing.T) {
	raw := make([]byte, 64)
	raw[31] = 0x01 // r = 1
	raw[63] = 0x02 // s = 2

	der, err := rsToDER(raw)
	require.NoError(t, err)

	var decoded ecdsaSignature
	_, err = asn1.Unmarshal(der, &decoded)
	require.NoError(t, err)
	assert.Equal(t, int64(1), decoded.R.Int64())
	assert.Equal(t, int64(2), decoded.S.Int64())
}
