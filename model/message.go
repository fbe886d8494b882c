package model

import "strings"

// Message is a struct that represents an encrypted protocol message sent from one participant
// to one or more others. The relay never looks inside Body.
type Message struct {
	SessionID  string   `json:"session_id,omitempty"`
	From       string   `json:"from,omitempty"`
	To         []string `json:"to,omitempty"`
	Body       string   `json:"body,omitempty"`
	Hash       string   `json:"hash"`
	SequenceNo uint64   `json:"sequence_no"`
}

// Recipients returns the non blank recipients of m, trimmed and without duplicates, in the
// order they were given.
func (m Message) Recipients() []string {
	seen := make(map[string]struct{}, len(m.To))
	recipients := make([]string, 0, len(m.To))
	for _, item := range m.To {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		if _, ok := seen[item]; ok {
			continue
		}
		seen[item] = struct{}{}
		recipients = append(recipients, item)
	}
	return recipients
}
