package relay

import (
	"context"
	"fmt"
	"strings"

	"github.com/vultisig/vultisig-mediator/storage"
)

// RecordStore keeps one value per (session, round tag). A later Put overwrites the earlier one,
// records only go away when the store is cleared.
type RecordStore struct {
	name    string
	records storage.KeyedStore[string]
}

func NewRecordStore(b *storage.Backend, namespace string) *RecordStore {
	return &RecordStore{
		name:    namespace,
		records: storage.Open[string](b, namespace),
	}
}

func recordKey(sessionID, roundTag string) string {
	roundTag = strings.TrimSpace(roundTag)
	if roundTag == "" {
		return storage.Key(sessionID)
	}
	return storage.Key(sessionID, roundTag)
}

func (r *RecordStore) Put(ctx context.Context, sessionID, roundTag, content string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	if err := r.records.Set(ctx, recordKey(sessionID, roundTag), content); err != nil {
		return fmt.Errorf("fail to set %s record %s, err: %w", r.name, sessionID, err)
	}
	return nil
}

func (r *RecordStore) Get(ctx context.Context, sessionID, roundTag string) (string, error) {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return "", err
	}
	content, err := r.records.Get(ctx, recordKey(sessionID, roundTag))
	if err != nil {
		return "", fmt.Errorf("fail to get %s record %s, err: %w", r.name, sessionID, err)
	}
	return content, nil
}

func (r *RecordStore) Clear(ctx context.Context) error {
	return r.records.Clear(ctx)
}
