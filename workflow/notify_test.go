package workflow

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewMessageHeaders(t *testing.T) {
	msg, err := newMessage("backup@example.com", []string{"owner@example.com", "it@example.com"},
		"Backup completed: ရန်ကုန်.json.gz", "Records: 12\n")
	require.NoError(t, err)

	var buf bytes.Buffer
	_, err = msg.WriteTo(&buf)
	require.NoError(t, err)
	raw := buf.String()

	assert.Regexp(t, `(?im)^date: `, raw)
	assert.Regexp(t, `(?im)^message-id: <`, raw)
	assert.Contains(t, raw, "owner@example.com")
	assert.Contains(t, raw, "it@example.com")
	// non-ascii subjects go out as encoded words
	assert.Contains(t, raw, "=?UTF-8?")
	assert.NotContains(t, raw, "ရန်ကုန်")
	assert.Contains(t, raw, "Records: 12")
}

func TestNewMessageRejectsBadAddresses(t *testing.T) {
	_, err := newMessage("not an address", []string{"owner@example.com"}, "s", "b")
	assert.Error(t, err)

	_, err = newMessage("backup@example.com", []string{"@@"}, "s", "b")
	assert.Error(t, err)
}
