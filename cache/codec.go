package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"reflect"
)

// Codec serializes values for the persistent tiers.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes values with encoding/json.
type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// KeyDigest returns the content address of key: the lowercase hex SHA-256 of
// its canonical encoding. Equal keys hash to the same digest across processes,
// and distinct keys have distinct encodings, so they only share a digest on a
// SHA-256 collision. Keys containing pointers, channels or functions are
// rejected.
func KeyDigest[K any](key K) (string, error) {
	b, err := encodeValue(nil, reflect.ValueOf(&key).Elem())
	if err != nil {
		return "", fmt.Errorf("canonicalize key: %w", err)
	}
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:]), nil
}
