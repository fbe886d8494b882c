// Package relay holds the ceremony state the mediator ferries between devices: who joined a
// session, which participants run the current round, the per recipient mailboxes, content
// addressed payloads and single slot records. Every type is a typed view over a
// storage.KeyedStore namespace, so the relay stays blind to the protocol it carries.
package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/vultisig/vultisig-mediator/storage"
)

var (
	// ErrInvalidArgument marks a missing or blank identifier.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrHashMismatch is returned when a payload does not hash to the key it was posted under.
	ErrHashMismatch = errors.New("hash mismatch")

	errUnchanged = errors.New("unchanged")
)

func invalidArgument(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidArgument, fmt.Sprintf(format, args...))
}

// requireID trims id and rejects it when blank.
func requireID(name, id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", invalidArgument("%s is required", name)
	}
	return id, nil
}

// Stores bundles every store of one ceremony.
type Stores struct {
	Sessions       *SessionRegistry
	Messages       *Mailbox
	Payloads       *PayloadStore
	SetupMessages  *RecordStore
	KeysignResults *RecordStore
}

func NewStores(b *storage.Backend) *Stores {
	return &Stores{
		Sessions:       NewSessionRegistry(b),
		Messages:       NewMailbox(b),
		Payloads:       NewPayloadStore(b),
		SetupMessages:  NewRecordStore(b, "setup"),
		KeysignResults: NewRecordStore(b, "keysign"),
	}
}

// Clear empties every store. Each store is cleared on its own, so a concurrent reader may see
// some stores cleared and others not yet.
func (s *Stores) Clear(ctx context.Context) error {
	return errors.Join(
		s.Sessions.Clear(ctx),
		s.Messages.Clear(ctx),
		s.Payloads.Clear(ctx),
		s.SetupMessages.Clear(ctx),
		s.KeysignResults.Clear(ctx),
	)
}
