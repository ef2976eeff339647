package stores

import (
	"context"
	"crypto/cipher"
	"crypto/rand"
	"database/sql"
	"errors"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"github.com/matijagrcic/sane-shopify/pkg/engine"
)

const (
	saltSize = 16

	argonTime    = 1
	argonMemory  = 64 * 1024
	argonThreads = 4
)

var secretsAAD = []byte("sanesync/secrets/v1")

// ErrDecrypt is returned when a sealed secret cannot be opened, usually
// because the passphrase changed.
var ErrDecrypt = errors.New("failed to decrypt secret")

// SecretCipher seals values with XChaCha20-Poly1305 under a key derived from a
// passphrase with Argon2id. Every sealed value carries its own salt and nonce.
type SecretCipher struct {
	passphrase []byte
}

// NewSecretCipher creates a cipher for passphrase.
func NewSecretCipher(passphrase string) (*SecretCipher, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("secret passphrase is required")
	}
	return &SecretCipher{passphrase: []byte(passphrase)}, nil
}

// Seal encrypts plaintext. The output layout is salt | nonce | ciphertext.
func (c *SecretCipher) Seal(plaintext []byte) ([]byte, error) {
	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}
	aead, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	out := make([]byte, 0, saltSize+len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, plaintext, secretsAAD), nil
}

// Open decrypts a value produced by Seal.
func (c *SecretCipher) Open(sealed []byte) ([]byte, error) {
	if len(sealed) < saltSize+chacha20poly1305.NonceSizeX {
		return nil, fmt.Errorf("%w: value too short", ErrDecrypt)
	}
	salt := sealed[:saltSize]
	aead, err := c.aead(salt)
	if err != nil {
		return nil, err
	}
	nonce := sealed[saltSize : saltSize+aead.NonceSize()]
	plaintext, err := aead.Open(nil, nonce, sealed[saltSize+aead.NonceSize():], secretsAAD)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDecrypt, err)
	}
	return plaintext, nil
}

func (c *SecretCipher) aead(salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey(c.passphrase, salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	return aead, nil
}

// SecretStore keeps catalog credentials in the secrets table with the access
// token sealed. It implements engine.SecretStore.
type SecretStore struct {
	store  *SQLiteStore
	cipher *SecretCipher
}

// NewSecretStore creates a secret store backed by store.
func NewSecretStore(store *SQLiteStore, cipher *SecretCipher) *SecretStore {
	return &SecretStore{store: store, cipher: cipher}
}

// Fetch returns the stored secrets, or empty secrets if none are saved.
func (s *SecretStore) Fetch(ctx context.Context) (engine.Secrets, error) {
	var shop string
	var sealed []byte
	err := s.store.db.QueryRowContext(ctx,
		`SELECT shop_name, access_token FROM secrets WHERE id = 1`,
	).Scan(&shop, &sealed)
	if errors.Is(err, sql.ErrNoRows) {
		return engine.Secrets{}, nil
	}
	if err != nil {
		return engine.Secrets{}, fmt.Errorf("failed to fetch secrets: %w", err)
	}

	token, err := s.cipher.Open(sealed)
	if err != nil {
		return engine.Secrets{}, err
	}
	return engine.Secrets{ShopName: shop, AccessToken: string(token)}, nil
}

// Save replaces the stored secrets.
func (s *SecretStore) Save(ctx context.Context, secrets engine.Secrets) error {
	sealed, err := s.cipher.Seal([]byte(secrets.AccessToken))
	if err != nil {
		return err
	}

	query := `
		INSERT INTO secrets (id, shop_name, access_token, updated_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			shop_name = excluded.shop_name,
			access_token = excluded.access_token,
			updated_at = excluded.updated_at
	`
	if _, err := s.store.db.ExecContext(ctx, query, secrets.ShopName, sealed, formatTime(s.store.now())); err != nil {
		return fmt.Errorf("failed to save secrets: %w", err)
	}
	return nil
}

// Clear removes the stored secrets.
func (s *SecretStore) Clear(ctx context.Context) error {
	if _, err := s.store.db.ExecContext(ctx, `DELETE FROM secrets`); err != nil {
		return fmt.Errorf("failed to clear secrets: %w", err)
	}
	return nil
}
