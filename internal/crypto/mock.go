package crypto

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
)

const mockPrefix = "mock:"

// MockEncryptor implements Encryptor for local development (no KMS required).
// It only base64-encodes behind a marker prefix; it provides no secrecy.
type MockEncryptor struct{}

func NewMockEncryptor() *MockEncryptor {
	return &MockEncryptor{}
}

func (m *MockEncryptor) Encrypt(ctx context.Context, plaintext string) (string, error) {
	return mockPrefix + base64.StdEncoding.EncodeToString([]byte(plaintext)), nil
}

func (m *MockEncryptor) Decrypt(ctx context.Context, ciphertext string) (string, error) {
	encoded, ok := strings.CutPrefix(ciphertext, mockPrefix)
	if !ok {
		return "", fmt.Errorf("ciphertext was not produced by the mock encryptor")
	}
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}
	return string(decoded), nil
}
