/*
 * Copyright (c) 2026 Firefly Software Solutions Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package algorithm

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
)

// noneEncryptor is the identity passthrough.
type noneEncryptor struct{}

func (noneEncryptor) Name() string { return "none" }
func (noneEncryptor) KeySize() int { return 0 }
func (noneEncryptor) MaxOutputSize(n int) int { return n }

func (noneEncryptor) Encrypt(_, plaintext []byte) ([]byte, error) {
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (noneEncryptor) Decrypt(_, ciphertext []byte) ([]byte, error) {
	out := make([]byte, len(ciphertext))
	copy(out, ciphertext)
	return out, nil
}

// aeadNonceSize and aeadTagSize are the nonce-plus-tag overhead shared by both AEAD
// ciphers CCVFS registers: a 12-byte nonce is generated per call and
// prepended to the ciphertext, so MaxOutputSize / stored_size accounts
// for plaintext + 12 + 16 (spec.md §9 open-question resolution: nonces
// are stored inline rather than carried in a separate index field).
const aeadNonceSize = 12
const aeadTagSize = 16

// aesGCMEncryptor wraps stdlib crypto/aes + crypto/cipher.NewGCM,
// AES-256 (a 32-byte key, after the transform pipeline's pad/truncate
// step — spec.md §6).
type aesGCMEncryptor struct{}

func (aesGCMEncryptor) Name() string           { return "aes-gcm" }
func (aesGCMEncryptor) KeySize() int            { return 32 }
func (aesGCMEncryptor) MaxOutputSize(n int) int { return n + aeadNonceSize + aeadTagSize }

func (aesGCMEncryptor) newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("algorithm: aes-gcm: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("algorithm: aes-gcm: %w", err)
	}
	return gcm, nil
}

func (a aesGCMEncryptor) Encrypt(key, plaintext []byte) ([]byte, error) {
	gcm, err := a.newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("algorithm: aes-gcm: nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+gcm.Overhead())
	out = append(out, nonce...)
	out = gcm.Seal(out, nonce, plaintext, nil)
	return out, nil
}

func (a aesGCMEncryptor) Decrypt(key, ciphertext []byte) ([]byte, error) {
	gcm, err := a.newGCM(key)
	if err != nil {
		return nil, err
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("algorithm: aes-gcm: ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	plaintext, err := gcm.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("algorithm: aes-gcm: authentication failed: %w", err)
	}
	return plaintext, nil
}

// chacha20Poly1305Encryptor wraps golang.org/x/crypto/chacha20poly1305,
// a 32-byte-key AEAD cipher.
type chacha20Poly1305Encryptor struct{}

func newChaCha20Poly1305Encryptor() chacha20Poly1305Encryptor {
	return chacha20Poly1305Encryptor{}
}

func (chacha20Poly1305Encryptor) Name() string { return "chacha20poly1305" }
func (chacha20Poly1305Encryptor) KeySize() int  { return chacha20poly1305.KeySize }
func (chacha20Poly1305Encryptor) MaxOutputSize(n int) int {
	return n + chacha20poly1305.NonceSize + chacha20poly1305.Overhead
}

func (chacha20Poly1305Encryptor) Encrypt(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("algorithm: chacha20poly1305: %w", err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("algorithm: chacha20poly1305: nonce: %w", err)
	}
	out := make([]byte, 0, len(nonce)+len(plaintext)+aead.Overhead())
	out = append(out, nonce...)
	out = aead.Seal(out, nonce, plaintext, nil)
	return out, nil
}

func (chacha20Poly1305Encryptor) Decrypt(key, ciphertext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("algorithm: chacha20poly1305: %w", err)
	}
	if len(ciphertext) < aead.NonceSize() {
		return nil, fmt.Errorf("algorithm: chacha20poly1305: ciphertext too short")
	}
	nonce, body := ciphertext[:aead.NonceSize()], ciphertext[aead.NonceSize():]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, fmt.Errorf("algorithm: chacha20poly1305: authentication failed: %w", err)
	}
	return plaintext, nil
}
