package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessageEmpty(t *testing.T) {
	assert.True(t, Message{}.Empty())
	assert.False(t, Message{Content: "hi"}.Empty())
	assert.False(t, Message{Attachments: Attachments{{URL: "https://cdn/x.png"}}}.Empty())
}

func TestAttachmentsColumnRoundTrip(t *testing.T) {
	in := Attachments{{URL: "https://cdn/x.png", Filename: "x.png", Mimetype: "image/png", Size: 1024}}

	val, err := in.Value()
	require.NoError(t, err)
	raw, ok := val.([]byte)
	require.True(t, ok)

	var out Attachments
	require.NoError(t, out.Scan(raw))
	assert.Equal(t, in, out)
}

func TestAttachmentsNullColumn(t *testing.T) {
	val, err := Attachments(nil).Value()
	require.NoError(t, err)
	assert.Nil(t, val, "no attachments stores SQL NULL")

	out := Attachments{{URL: "stale"}}
	require.NoError(t, out.Scan(nil))
	assert.Nil(t, out)
}
