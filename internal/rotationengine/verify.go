package rotationengine

import (
	"crypto/ecdsa"
	"crypto/x509"
	"encoding/pem"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// verifyDER reports whether sig (DER SEQUENCE{INTEGER r, INTEGER s})
// validates against digest under the ECDSA-P256 public key encoded in
// pubKeyPEM. Used by canary testing and post-cutover validation to
// actually check a signature rather than assume it passes (spec.md §9:
// "a real implementation must verify each new signature against the
// published public key").
func verifyDER(pubKeyPEM string, digest, sig []byte) (bool, error) {
	block, _ := pem.Decode([]byte(pubKeyPEM))
	if block == nil {
		return false, ctlerrors.New(ctlerrors.Crypto, "rotationengine.verifyDER", "not a PEM public key")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return false, ctlerrors.Wrap(ctlerrors.Crypto, "rotationengine.verifyDER", err)
	}
	ecdsaPub, ok := pub.(*ecdsa.PublicKey)
	if !ok {
		return false, ctlerrors.New(ctlerrors.Crypto, "rotationengine.verifyDER", "public key is not ECDSA")
	}
	return ecdsa.VerifyASN1(ecdsaPub, digest, sig), nil
}
