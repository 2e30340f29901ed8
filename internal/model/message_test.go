package model

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestConversationKey_Unordered(t *testing.T) {
	ab := NewConversationKey("u1", "u2")
	ba := NewConversationKey("u2", "u1")
	require.Equal(t, ab, ba)
	require.Equal(t, "u1:u2", ab.String())
	require.True(t, ab.Has("u1"))
	require.True(t, ab.Has("u2"))
	require.False(t, ab.Has("u3"))
}

func TestMessageKey(t *testing.T) {
	m := &Message{SenderID: "b", ReceiverID: "a"}
	require.Equal(t, NewConversationKey("a", "b"), m.Key())

	c := m.Clone()
	c.Body = "changed"
	require.Empty(t, m.Body)
}

func TestProfileWithDefaults(t *testing.T) {
	p := Profile{}.WithDefaults()
	require.Equal(t, DefaultDisplayName, p.DisplayName)
	require.Equal(t, DefaultEmail, p.Email)

	p = Profile{DisplayName: "Ann", Email: "a@x"}.WithDefaults()
	require.Equal(t, "Ann", p.DisplayName)
	require.Equal(t, "a@x", p.Email)
}
