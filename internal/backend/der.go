package backend

import (
	"encoding/asn1"
	"math/big"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// digestLength is the fixed SHA-256 digest size every SignES256 caller
// must supply; backends never hash on the caller's behalf.
const digestLength = 32

type ecdsaSignature struct {
	R, S *big.Int
}

// requireDigest validates digest is exactly 32 bytes before any backend
// attempts to sign it.
func requireDigest(digest []byte) error {
	if len(digest) != digestLength {
		return ctlerrors.New(ctlerrors.Crypto, "backend.SignES256", "digest must be 32 bytes (SHA-256)")
	}
	return nil
}

// encodeDER packs raw ECDSA R and S values into the DER
// SEQUENCE{INTEGER r, INTEGER s} format most verifiers expect, rather
// than the raw R||S concatenation some KMS/HSM APIs return.
func encodeDER(r, s *big.Int) ([]byte, error) {
	out, err := asn1.Marshal(ecdsaSignature{R: r, S: s})
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.Crypto, "backend.encodeDER", err)
	}
	return out, nil
}

// rsToDER converts a fixed-width raw R||S signature (the format returned
// by some KMS/HSM sign APIs) into DER.
func rsToDER(raw []byte) ([]byte, error) {
	if len(raw)%2 != 0 {
		return nil, ctlerrors.New(ctlerrors.Crypto, "backend.rsToDER", "raw signature must have even length")
	}
	half := len(raw) / 2
	r := new(big.Int).SetBytes(raw[:half])
	s := new(big.Int).SetBytes(raw[half:])
	return encodeDER(r, s)
}
