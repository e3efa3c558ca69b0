package vaultcrypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"runtime"

	"golang.org/x/crypto/pbkdf2"
	"golang.org/x/sync/semaphore"
)

// Cipher seals and opens envelopes. KDF runs are bounded by a worker pool so
// a burst of decrypts (a vault listing, a rotation) cannot starve the process.
type Cipher struct {
	iterations int
	pool       *semaphore.Weighted
	random     io.Reader
}

// Option configures a Cipher.
type Option func(*Cipher)

// WithIterations overrides the PBKDF2 iteration count used for new envelopes.
// Decryption always uses the count recorded in the envelope.
func WithIterations(n int) Option {
	return func(c *Cipher) {
		c.iterations = n
	}
}

// WithWorkers sets how many key derivations may run at once.
func WithWorkers(n int) Option {
	return func(c *Cipher) {
		if n > 0 {
			c.pool = semaphore.NewWeighted(int64(n))
		}
	}
}

// WithRandom replaces the source of salts, IVs and marker nonces.
func WithRandom(r io.Reader) Option {
	return func(c *Cipher) {
		c.random = r
	}
}

func New(opts ...Option) *Cipher {
	c := &Cipher{
		iterations: DefaultIterations,
		pool:       semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0))),
		random:     rand.Reader,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Iterations reports the iteration count used for new envelopes.
func (c *Cipher) Iterations() int {
	return c.iterations
}

// DeriveKey runs PBKDF2-HMAC-SHA256 over passphrase and salt with the
// cipher's iteration count. The caller owns the returned key and should Zero it.
func (c *Cipher) DeriveKey(ctx context.Context, passphrase, salt []byte) ([]byte, error) {
	return c.deriveKey(ctx, passphrase, salt, c.iterations)
}

func (c *Cipher) deriveKey(ctx context.Context, passphrase, salt []byte, iterations int) ([]byte, error) {
	if len(salt) != SaltSize {
		return nil, fmt.Errorf("%w: salt must be %d bytes", ErrKeyDerivation, SaltSize)
	}
	if iterations < 1 || iterations > MaxIterations {
		return nil, fmt.Errorf("%w: invalid iteration count %d", ErrKeyDerivation, iterations)
	}

	if err := c.pool.Acquire(ctx, 1); err != nil {
		return nil, err
	}

	done := make(chan []byte, 1)
	go func() {
		defer c.pool.Release(1)
		done <- pbkdf2.Key(passphrase, salt, iterations, KeySize, sha256.New)
	}()

	select {
	case key := <-done:
		return key, nil
	case <-ctx.Done():
		go func() {
			Zero(<-done)
		}()
		return nil, ctx.Err()
	}
}

// Encrypt seals plaintext under a key derived from passphrase and a fresh
// salt. Every call draws a new salt and a new IV.
func (c *Cipher) Encrypt(ctx context.Context, plaintext, passphrase []byte) (*Envelope, error) {
	salt := make([]byte, SaltSize)
	if _, err := io.ReadFull(c.random, salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	iv := make([]byte, IVSize)
	if _, err := io.ReadFull(c.random, iv); err != nil {
		return nil, fmt.Errorf("failed to generate iv: %w", err)
	}

	key, err := c.deriveKey(ctx, passphrase, salt, c.iterations)
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	return &Envelope{
		Version:    EnvelopeVersion,
		Iterations: c.iterations,
		Salt:       salt,
		IV:         iv,
		Ciphertext: gcm.Seal(nil, iv, plaintext, nil),
	}, nil
}

// Decrypt rederives the key from the envelope's own salt and opens it.
// Authentication failure is always ErrDecryption.
func (c *Cipher) Decrypt(ctx context.Context, env *Envelope, passphrase []byte) ([]byte, error) {
	if err := env.Validate(); err != nil {
		return nil, err
	}

	key, err := c.deriveKey(ctx, passphrase, env.Salt, env.KDFIterations())
	if err != nil {
		return nil, err
	}
	defer Zero(key)

	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}

	plaintext, err := gcm.Open(nil, env.IV, env.Ciphertext, nil)
	if err != nil {
		return nil, ErrDecryption
	}

	return plaintext, nil
}

// EncryptString is Encrypt for text fields.
func (c *Cipher) EncryptString(ctx context.Context, plaintext string, passphrase []byte) (*Envelope, error) {
	return c.Encrypt(ctx, []byte(plaintext), passphrase)
}

// DecryptString is Decrypt for text fields.
func (c *Cipher) DecryptString(ctx context.Context, env *Envelope, passphrase []byte) (string, error) {
	plaintext, err := c.Decrypt(ctx, env, passphrase)
	if err != nil {
		return "", err
	}
	defer Zero(plaintext)
	return string(plaintext), nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return gcm, nil
}
