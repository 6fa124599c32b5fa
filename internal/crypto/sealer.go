package crypto

import (
	"context"
	"fmt"
)

// Sealer wraps content in a fixed number of encryption layers. The layer
// count is recorded on each item so older items stay readable after the
// configured count changes.
type Sealer struct {
	enc    Encryptor
	layers int
}

func NewSealer(enc Encryptor, layers int) *Sealer {
	if layers < 1 {
		layers = 1
	}
	return &Sealer{enc: enc, layers: layers}
}

func (s *Sealer) Layers() int { return s.layers }

// Seal encrypts plaintext Layers() times.
func (s *Sealer) Seal(ctx context.Context, plaintext string) (string, error) {
	out := plaintext
	for i := 0; i < s.layers; i++ {
		var err error
		if out, err = s.enc.Encrypt(ctx, out); err != nil {
			return "", fmt.Errorf("seal layer %d: %w", i+1, err)
		}
	}
	return out, nil
}

// Open peels layers encryption layers off ciphertext.
func (s *Sealer) Open(ctx context.Context, ciphertext string, layers int) (string, error) {
	out := ciphertext
	for i := layers; i > 0; i-- {
		var err error
		if out, err = s.enc.Decrypt(ctx, out); err != nil {
			return "", fmt.Errorf("open layer %d: %w", i, err)
		}
	}
	return out, nil
}
