package relay

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/vultisig/vultisig-mediator/storage"
)

// PayloadStore is a content addressed store, the key of every payload is the hex SHA-256 of it.
type PayloadStore struct {
	payloads storage.KeyedStore[string]
}

func NewPayloadStore(b *storage.Backend) *PayloadStore {
	return &PayloadStore{payloads: storage.Open[string](b, "payload")}
}

// Hash returns the lowercase hex SHA-256 of content.
func Hash(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// Put stores content under hash after checking that content hashes to it.
func (p *PayloadStore) Put(ctx context.Context, hash, content string) error {
	hash, err := requireID("payload hash", hash)
	if err != nil {
		return err
	}
	hash = strings.ToLower(hash)
	if Hash(content) != hash {
		return ErrHashMismatch
	}
	if err := p.payloads.Set(ctx, hash, content); err != nil {
		return fmt.Errorf("fail to set payload %s, err: %w", hash, err)
	}
	return nil
}

// Get returns the payload stored under hash. Content that no longer matches its hash is
// reported as not found.
func (p *PayloadStore) Get(ctx context.Context, hash string) (string, error) {
	hash, err := requireID("payload hash", hash)
	if err != nil {
		return "", err
	}
	hash = strings.ToLower(hash)
	content, err := p.payloads.Get(ctx, hash)
	if err != nil {
		return "", fmt.Errorf("fail to get payload %s, err: %w", hash, err)
	}
	if Hash(content) != hash {
		return "", fmt.Errorf("payload %s is corrupted, err: %w", hash, storage.ErrNotFound)
	}
	return content, nil
}

func (p *PayloadStore) Clear(ctx context.Context) error {
	if err := p.payloads.Clear(ctx); err != nil {
		return fmt.Errorf("fail to clear payloads, err: %w", err)
	}
	return nil
}
