package relay

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vultisig/vultisig-mediator/model"
	"github.com/vultisig/vultisig-mediator/storage"
)

// Mailbox queues messages per (session, recipient, round tag) until the recipient deletes them.
// Pulling does not remove anything, so a device that crashed mid round sees its messages again.
type Mailbox struct {
	boxes storage.KeyedStore[[]model.Message]
}

func NewMailbox(b *storage.Backend) *Mailbox {
	return &Mailbox{boxes: storage.Open[[]model.Message](b, "message")}
}

func mailboxKey(sessionID, recipient, roundTag string) string {
	if roundTag == "" {
		return storage.Key(sessionID, recipient)
	}
	return storage.Key(sessionID, recipient, roundTag)
}

// Post copies m into the mailbox of every recipient. Posting a hash that is already queued for
// a recipient is a no-op, which makes client retries safe.
func (mb *Mailbox) Post(ctx context.Context, sessionID, roundTag string, m model.Message) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	m.Hash = strings.TrimSpace(m.Hash)
	if m.Hash == "" {
		return invalidArgument("message hash is required")
	}
	recipients := m.Recipients()
	if len(recipients) == 0 {
		return invalidArgument("message has no recipient")
	}
	if m.SessionID == "" {
		m.SessionID = sessionID
	}
	roundTag = strings.TrimSpace(roundTag)
	for _, recipient := range recipients {
		key := mailboxKey(sessionID, recipient, roundTag)
		err := mb.boxes.Update(ctx, key, func(current []model.Message, _ bool) ([]model.Message, error) {
			for _, existing := range current {
				if existing.Hash == m.Hash {
					return nil, errUnchanged
				}
			}
			return append(slices.Clone(current), m), nil
		})
		if err != nil && !errors.Is(err, errUnchanged) {
			return fmt.Errorf("fail to set message for %s, err: %w", recipient, err)
		}
	}
	return nil
}

// Pull returns the messages queued for recipient. An empty mailbox is an empty list.
func (mb *Mailbox) Pull(ctx context.Context, sessionID, recipient, roundTag string) ([]model.Message, error) {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return nil, err
	}
	recipient, err = requireID("participant ID", recipient)
	if err != nil {
		return nil, err
	}
	messages, err := mb.boxes.Get(ctx, mailboxKey(sessionID, recipient, strings.TrimSpace(roundTag)))
	if errors.Is(err, storage.ErrNotFound) {
		return []model.Message{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fail to get messages for %s, err: %w", recipient, err)
	}
	if messages == nil {
		return []model.Message{}, nil
	}
	return slices.Clone(messages), nil
}

// Delete removes the message with the given hash from the mailbox of recipient only.
// Deleting a message that is not there is not an error.
func (mb *Mailbox) Delete(ctx context.Context, sessionID, recipient, hash, roundTag string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	recipient, err = requireID("participant ID", recipient)
	if err != nil {
		return err
	}
	hash, err = requireID("message hash", hash)
	if err != nil {
		return err
	}
	key := mailboxKey(sessionID, recipient, strings.TrimSpace(roundTag))
	err = mb.boxes.Update(ctx, key, func(current []model.Message, exists bool) ([]model.Message, error) {
		if !exists {
			return nil, errUnchanged
		}
		idx := slices.IndexFunc(current, func(m model.Message) bool { return m.Hash == hash })
		if idx < 0 {
			return nil, errUnchanged
		}
		return slices.Delete(slices.Clone(current), idx, idx+1), nil
	})
	if err != nil && !errors.Is(err, errUnchanged) {
		return fmt.Errorf("fail to delete message %s, err: %w", hash, err)
	}
	return nil
}

// Drop removes the whole mailbox of recipient.
func (mb *Mailbox) Drop(ctx context.Context, sessionID, recipient, roundTag string) error {
	sessionID, err := requireID("session ID", sessionID)
	if err != nil {
		return err
	}
	recipient, err = requireID("participant ID", recipient)
	if err != nil {
		return err
	}
	if err := mb.boxes.Delete(ctx, mailboxKey(sessionID, recipient, strings.TrimSpace(roundTag))); err != nil {
		return fmt.Errorf("fail to delete messages for %s, err: %w", recipient, err)
	}
	return nil
}

func (mb *Mailbox) Clear(ctx context.Context) error {
	return mb.boxes.Clear(ctx)
}
