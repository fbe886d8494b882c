package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRecipients(t *testing.T) {
	m := Message{To: []string{"B", " C ", "", "B", "  "}}
	assert.Equal(t, []string{"B", "C"}, m.Recipients())
	assert.Empty(t, Message{}.Recipients())
}
