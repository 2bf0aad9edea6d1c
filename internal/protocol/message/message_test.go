package message

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseControlBootstrap(t *testing.T) {
	c, err := ParseControl([]byte("_||"))
	require.NoError(t, err)
	assert.True(t, c.IsBootstrap())
	assert.Empty(t, c.SessionID)
	assert.Empty(t, c.Body)
}

func TestParseControlBodyKeepsSeparators(t *testing.T) {
	c, err := ParseControl([]byte(`echo|abc.def|{"a":"x|y"}`))
	require.NoError(t, err)
	assert.Equal(t, "echo", c.View)
	assert.Equal(t, "abc.def", c.SessionID)
	assert.Equal(t, `{"a":"x|y"}`, string(c.Body))
}

func TestParseControlMissingSeparator(t *testing.T) {
	_, err := ParseControl([]byte("echo|only-one"))
	require.ErrorIs(t, err, ErrMissingSeparator)

	_, err = ParseControl([]byte("nothing"))
	require.ErrorIs(t, err, ErrMissingSeparator)
}

func TestEncodeControlRoundTrip(t *testing.T) {
	raw := EncodeControl("cloud.authorize", "sid", []byte(`{}`))
	c, err := ParseControl(raw)
	require.NoError(t, err)
	assert.Equal(t, "cloud.authorize", c.View)
	assert.Equal(t, "sid", c.SessionID)
	assert.Equal(t, "{}", string(c.Body))
}

func TestParseStorage(t *testing.T) {
	h, rest, err := ParseStorage([]byte("docs/a.txt|S1|hel"))
	require.NoError(t, err)
	assert.Equal(t, "docs/a.txt", h.Path)
	assert.Equal(t, "S1", h.SessionID)
	assert.Equal(t, len("docs/a.txt|S1|"), h.Len)
	assert.Equal(t, "hel", string(rest))
}

func TestReplyAndPush(t *testing.T) {
	sid, body, err := ParseReply(EncodeReply("S1", []byte(`{"response":"ok"}`)))
	require.NoError(t, err)
	assert.Equal(t, "S1", sid)
	assert.JSONEq(t, `{"response":"ok"}`, string(body))

	view, body, err := ParsePush(EncodePush("notify", []byte(`[1,2]`)))
	require.NoError(t, err)
	assert.Equal(t, "notify", view)
	assert.Equal(t, "[1,2]", string(body))
}
