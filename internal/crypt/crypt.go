// Package crypt implements passphrase-based symmetric file encryption:
// argon2id key derivation and chacha20poly1305 AEAD over the whole
// file, with a small self-describing header.
package crypt

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"

	"mediaforge/internal/job"
)

// EncryptedExt marks encrypted artifacts.
const EncryptedExt = ".mfc"

var magic = []byte("MFC1")

const (
	saltLen = 16

	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
)

var (
	ErrNotEncrypted  = errors.New("input is not a mediaforge-encrypted file")
	ErrWrongPass     = errors.New("wrong passphrase or corrupted file")
	ErrEmptyPassword = errors.New("passphrase must not be empty")
)

func deriveKey(passphrase string, salt []byte) []byte {
	return argon2.IDKey([]byte(passphrase), salt, argonTime, argonMemory, argonThreads, chacha20poly1305.KeySize)
}

// EncryptFile seals src into dst. Layout: magic, salt, nonce, sealed box.
func EncryptFile(src, dst, passphrase string) error {
	if passphrase == "" {
		return ErrEmptyPassword
	}
	plaintext, err := os.ReadFile(src) //nolint:gosec // upload path built by the API layer
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}

	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return fmt.Errorf("generate salt: %w", err)
	}
	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return fmt.Errorf("init cipher: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}

	// Original filename travels inside the sealed box so decryption
	// can restore it without trusting the artifact name.
	nameBytes := []byte(filepath.Base(src))
	header := make([]byte, 2)
	binary.BigEndian.PutUint16(header, uint16(len(nameBytes)))
	payload := append(header, nameBytes...)
	payload = append(payload, plaintext...)

	sealed := aead.Seal(nil, nonce, payload, magic)

	out := make([]byte, 0, len(magic)+saltLen+len(nonce)+len(sealed))
	out = append(out, magic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	if err := os.WriteFile(dst, out, 0o640); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

// DecryptFile opens src and writes the recovered plaintext into dir,
// returning the restored filename.
func DecryptFile(src, dir, passphrase string) (string, error) {
	if passphrase == "" {
		return "", ErrEmptyPassword
	}
	data, err := os.ReadFile(src) //nolint:gosec // upload path built by the API layer
	if err != nil {
		return "", fmt.Errorf("read input: %w", err)
	}
	minLen := len(magic) + saltLen + chacha20poly1305.NonceSizeX
	if len(data) < minLen || string(data[:len(magic)]) != string(magic) {
		return "", ErrNotEncrypted
	}
	data = data[len(magic):]
	salt, data := data[:saltLen], data[saltLen:]
	nonce, sealed := data[:chacha20poly1305.NonceSizeX], data[chacha20poly1305.NonceSizeX:]

	aead, err := chacha20poly1305.NewX(deriveKey(passphrase, salt))
	if err != nil {
		return "", fmt.Errorf("init cipher: %w", err)
	}
	payload, err := aead.Open(nil, nonce, sealed, magic)
	if err != nil {
		return "", ErrWrongPass
	}
	if len(payload) < 2 {
		return "", ErrWrongPass
	}
	nameLen := int(binary.BigEndian.Uint16(payload[:2]))
	if len(payload) < 2+nameLen {
		return "", ErrWrongPass
	}
	name := sanitizeName(string(payload[2 : 2+nameLen]))
	plaintext := payload[2+nameLen:]

	outPath := filepath.Join(dir, name)
	if err := os.WriteFile(outPath, plaintext, 0o640); err != nil {
		return "", fmt.Errorf("write output: %w", err)
	}
	return outPath, nil
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.TrimSpace(name))
	if name == "" || name == "." || name == string(filepath.Separator) {
		return "decrypted.bin"
	}
	return name
}

// EncryptOp is the job operation wrapping EncryptFile.
type EncryptOp struct {
	Input      string
	Passphrase string
}

func (op EncryptOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	if err := ctx.Err(); err != nil {
		return job.Result{}, err
	}
	env.Reporter.Progress(10, "deriving key")
	out := filepath.Join(env.Dir, filepath.Base(op.Input)+EncryptedExt)
	if err := EncryptFile(op.Input, out, op.Passphrase); err != nil {
		return job.Result{}, err
	}
	return job.Result{
		Files: []string{out},
		Title: filepath.Base(op.Input),
	}, nil
}

// DecryptOp is the job operation wrapping DecryptFile.
type DecryptOp struct {
	Input      string
	Passphrase string
}

func (op DecryptOp) Run(ctx context.Context, env job.Env) (job.Result, error) {
	if err := ctx.Err(); err != nil {
		return job.Result{}, err
	}
	env.Reporter.Progress(10, "deriving key")
	out, err := DecryptFile(op.Input, env.Dir, op.Passphrase)
	if err != nil {
		return job.Result{}, err
	}
	return job.Result{
		Files: []string{out},
		Title: filepath.Base(out),
	}, nil
}
