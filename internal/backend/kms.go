package backend

import (
	"context"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"

	"github.com/systmms/signctl/internal/ctlerrors"
)

// kmsClient is the subset of the KMS SDK client KMS depends on, narrowed
// so tests can substitute a fake.
type kmsClient interface {
	Sign(ctx context.Context, params *kms.SignInput, optFns ...func(*kms.Options)) (*kms.SignOutput, error)
	GetPublicKey(ctx context.Context, params *kms.GetPublicKeyInput, optFns ...func(*kms.Options)) (*kms.GetPublicKeyOutput, error)
	DescribeKey(ctx context.Context, params *kms.DescribeKeyInput, optFns ...func(*kms.Options)) (*kms.DescribeKeyOutput, error)
}

// KMS is a SignBackend backed by AWS Key Management Service. KeyID values
// are KMS key ARNs or aliases; key material never leaves the HSM boundary
// KMS itself operates behind.
type KMS struct {
	client kmsClient
}

// NewKMS wraps an AWS SDK v2 KMS client.
func NewKMS(client *kms.Client) *KMS {
	return &KMS{client: client}
}

// newKMSForTesting lets tests inject a fake kmsClient without an AWS config.
func newKMSForTesting(client kmsClient) *KMS {
	return &KMS{client: client}
}

func (b *KMS) SignES256(ctx context.Context, keyID string, digest []byte) ([]byte, error) {
	if err := requireDigest(digest); err != nil {
		return nil, err
	}

	out, err := b.client.Sign(ctx, &kms.SignInput{
		KeyId:            aws.String(keyID),
		Message:          digest,
		MessageType:      types.MessageTypeDigest,
		SigningAlgorithm: types.SigningAlgorithmSpecEcdsaSha256,
	})
	if err != nil {
		return nil, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.KMS.SignES256", err).WithRotation(keyID)
	}

	// KMS already returns DER-encoded ECDSA signatures.
	return out.Signature, nil
}

func (b *KMS) PubKeyPEM(ctx context.Context, keyID string) (string, error) {
	out, err := b.client.GetPublicKey(ctx, &kms.GetPublicKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return "", ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.KMS.PubKeyPEM", err).WithRotation(keyID)
	}
	return derToPEM(out.PublicKey), nil
}

func (b *KMS) KeyMetadata(ctx context.Context, keyID string) (KeyMetadata, error) {
	out, err := b.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String(keyID)})
	if err != nil {
		return KeyMetadata{}, ctlerrors.Wrap(ctlerrors.BackendUnavailable, "backend.KMS.KeyMetadata", err).WithRotation(keyID)
	}

	var created time.Time
	if out.KeyMetadata != nil && out.KeyMetadata.CreationDate != nil {
		created = *out.KeyMetadata.CreationDate
	}
	return KeyMetadata{KeyID: keyID, BackendKind: KindKMS, CreatedAt: created}, nil
}

func (b *KMS) HealthCheck(ctx context.Context) (HealthStatus, error) {
	start := time.Now()
	_, err := b.client.DescribeKey(ctx, &kms.DescribeKeyInput{KeyId: aws.String("alias/signctl-health")})
	latency := time.Since(start).Milliseconds()
	if err != nil {
		return HealthStatus{Healthy: false, LatencyMS: latency, Detail: err.Error()}, nil
	}
	return HealthStatus{Healthy: true, LatencyMS: latency, Detail: "kms reachable"}, nil
}

func (b *KMS) BackendKind() Kind {
	return KindKMS
}
