package keys

import (
	"context"
	"crypto"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/project-kessel/userinfo/internal/fs"
)

// DiskStore keeps a ring's keys in a single JSON file
type DiskStore struct {
	path string
	fs   fs.FileSystem
}

// keyFileData is one entry of the key file
type keyFileData struct {
	ID         string    `json:"id"`
	Algorithm  string    `json:"algorithm"`
	KeyType    string    `json:"key_type"`
	PrivateKey string    `json:"private_key"` // base64 PKCS8 DER
	CreatedAt  time.Time `json:"created_at"`
}

// NewDiskStore creates a store at path. A nil filesystem uses the OS.
func NewDiskStore(path string, filesystem fs.FileSystem) (*DiskStore, error) {
	if path == "" {
		return nil, fmt.Errorf("key file path is required")
	}
	if filesystem == nil {
		filesystem = fs.NewOSFileSystem()
	}
	return &DiskStore{path: path, fs: filesystem}, nil
}

// Load returns the stored keys, or none when the file does not exist
func (s *DiskStore) Load(ctx context.Context) ([]StoredKey, error) {
	raw, err := s.fs.ReadFile(s.path)
	if err != nil {
		if s.fs.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read key file: %w", err)
	}

	var entries []keyFileData
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil, fmt.Errorf("failed to unmarshal key file (corrupted?): %w", err)
	}

	keys := make([]StoredKey, 0, len(entries))
	for _, e := range entries {
		der, err := base64.StdEncoding.DecodeString(e.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to decode private key %s: %w", e.ID, err)
		}
		parsed, err := x509.ParsePKCS8PrivateKey(der)
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key %s: %w", e.ID, err)
		}
		signer, ok := parsed.(crypto.Signer)
		if !ok {
			return nil, fmt.Errorf("private key %s does not implement crypto.Signer", e.ID)
		}
		keys = append(keys, StoredKey{
			ID:        KeyID(e.ID),
			Algorithm: Algorithm(e.Algorithm),
			KeyType:   KeyType(e.KeyType),
			Signer:    signer,
			CreatedAt: e.CreatedAt,
		})
	}
	return keys, nil
}

// Save atomically replaces the key file
func (s *DiskStore) Save(ctx context.Context, keys []StoredKey) error {
	entries := make([]keyFileData, 0, len(keys))
	for _, k := range keys {
		der, err := x509.MarshalPKCS8PrivateKey(k.Signer)
		if err != nil {
			return fmt.Errorf("failed to marshal private key %s: %w", k.ID, err)
		}
		entries = append(entries, keyFileData{
			ID:         string(k.ID),
			Algorithm:  string(k.Algorithm),
			KeyType:    string(k.KeyType),
			PrivateKey: base64.StdEncoding.EncodeToString(der),
			CreatedAt:  k.CreatedAt,
		})
	}

	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal JSON: %w", err)
	}
	if err := s.fs.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create key directory: %w", err)
	}
	if err := s.fs.WriteFileAtomic(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write key file: %w", err)
	}
	return nil
}
