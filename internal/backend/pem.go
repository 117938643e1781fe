package backend

import "encoding/pem"

// derToPEM wraps a raw DER-encoded public key (as returned by KMS and most
// PKCS11 HSMs) in a PEM "PUBLIC KEY" block.
func derToPEM(der []byte) string {
	block := &pem.Block{Type: "PUBLIC KEY", Bytes: der}
	return string(pem.EncodeToMemory(block))
}
