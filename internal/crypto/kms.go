package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
)

// Encryptor is the remote encryption collaborator. Ciphertext is an opaque
// printable string.
type Encryptor interface {
	Encrypt(ctx context.Context, plaintext string) (string, error)
	Decrypt(ctx context.Context, ciphertext string) (string, error)
}

// KMSClient is the subset of *kms.Client methods used by KMSService.
type KMSClient interface {
	Encrypt(ctx context.Context, params *kms.EncryptInput, optFns ...func(*kms.Options)) (*kms.EncryptOutput, error)
	Decrypt(ctx context.Context, params *kms.DecryptInput, optFns ...func(*kms.Options)) (*kms.DecryptOutput, error)
}

// KMSService implements Encryptor using AWS KMS.
type KMSService struct {
	client KMSClient
	keyID  string
}

// NewKMSService creates a new KMSService.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/timelock-vault").
func NewKMSService(client KMSClient, keyID string) *KMSService {
	return &KMSService{
		client: client,
		keyID:  keyID,
	}
}

// Encrypt encrypts the plaintext using the configured KMS key.
// Returns base64 encoded ciphertext.
func (s *KMSService) Encrypt(ctx context.Context, plaintext string) (string, error) {
	result, err := s.client.Encrypt(ctx, &kms.EncryptInput{
		KeyId:     aws.String(s.keyID),
		Plaintext: []byte(plaintext),
	})
	if err != nil {
		return "", fmt.Errorf("failed to encrypt data: %w", err)
	}

	return base64.StdEncoding.EncodeToString(result.CiphertextBlob), nil
}

// Decrypt decrypts the base64 encoded ciphertext using KMS.
func (s *KMSService) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	decoded, err := base64.StdEncoding.DecodeString(ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	result, err := s.client.Decrypt(ctx, &kms.DecryptInput{
		CiphertextBlob: decoded,
		KeyId:          aws.String(s.keyID),
	})
	if err != nil {
		return "", fmt.Errorf("failed to decrypt data: %w", err)
	}

	return string(result.Plaintext), nil
}
