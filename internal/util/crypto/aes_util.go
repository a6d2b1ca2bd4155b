// Licensed to the Apache Software Foundation (ASF) under one
// or more contributor license agreements.  See the NOTICE file
// distributed with this work for additional information
// regarding copyright ownership.  The ASF licenses this file
// to you under the Apache License, Version 2.0 (the
// "License"); you may not use this file except in compliance
// with the License.  You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

// Package crypto protects credentials stored in the worker configuration.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// SecretPrefix marks a configuration value as AES ciphertext.
const SecretPrefix = "aes:"

var ErrNoSecretKey = errors.New("AES secret key not set")

// AESCipher encrypts with AES-128-CBC, the key doubling as IV, and PKCS7
// padding. This matches the format written by the management console.
type AESCipher struct {
	key []byte
}

func NewAESCipher(secretKey string) (*AESCipher, error) {
	if secretKey == "" {
		return nil, ErrNoSecretKey
	}
	if len(secretKey) != aes.BlockSize {
		return nil, fmt.Errorf("key must be exactly %d bytes, got %d", aes.BlockSize, len(secretKey))
	}
	return &AESCipher{key: []byte(secretKey)}, nil
}

func (a *AESCipher) Encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	padded := addPKCS7Padding([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, a.key).CryptBlocks(out, padded)

	return base64.StdEncoding.EncodeToString(out), nil
}

func (a *AESCipher) Decrypt(encoded string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("failed to decode base64: %w", err)
	}
	if len(data) < aes.BlockSize || len(data)%aes.BlockSize != 0 {
		return "", fmt.Errorf("invalid encrypted data length: %d", len(data))
	}

	block, err := aes.NewCipher(a.key)
	if err != nil {
		return "", fmt.Errorf("failed to create AES cipher: %w", err)
	}

	plain := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, a.key).CryptBlocks(plain, data)

	plain, err = removePKCS7Padding(plain)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

// Reveal returns value unchanged unless it carries SecretPrefix, in which
// case it is decrypted with secretKey.
func Reveal(value, secretKey string) (string, error) {
	encoded, ok := strings.CutPrefix(value, SecretPrefix)
	if !ok {
		return value, nil
	}
	c, err := NewAESCipher(secretKey)
	if err != nil {
		return "", err
	}
	return c.Decrypt(encoded)
}

func addPKCS7Padding(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func removePKCS7Padding(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errors.New("empty plaintext")
	}

	n := int(data[len(data)-1])
	if n == 0 || n > aes.BlockSize || n > len(data) {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}

	return data[:len(data)-n], nil
}
