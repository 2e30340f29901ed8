package store

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/binary"
	"fmt"

	"dm_chat/internal/cryptographic/kdf"
	"dm_chat/internal/errs"
)

const macLen = 12

// CursorCodec turns a logical timestamp into an opaque token bound to one conversation.
type CursorCodec struct {
	key []byte
}

// NewCursorCodec derives the MAC key from secret. An empty secret gets a random one,
// so cursors stop validating after a restart.
func NewCursorCodec(secret []byte) (*CursorCodec, error) {
	if len(secret) == 0 {
		secret = make([]byte, 32)
		if _, err := rand.Read(secret); err != nil {
			return nil, err
		}
	}
	key, err := kdf.DeriveKey(secret, "dm_chat conversation cursor")
	if err != nil {
		return nil, err
	}
	return &CursorCodec{key: key}, nil
}

func (c *CursorCodec) Encode(conversationKey string, ts int64) string {
	buf := make([]byte, 8, 8+macLen)
	binary.BigEndian.PutUint64(buf, uint64(ts))
	buf = append(buf, c.mac(conversationKey, buf)...)
	return base64.RawURLEncoding.EncodeToString(buf)
}

// Decode returns the timestamp in cursor. The empty cursor means "from the start".
func (c *CursorCodec) Decode(conversationKey, cursor string) (int64, error) {
	if cursor == "" {
		return 0, nil
	}
	raw, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil || len(raw) != 8+macLen {
		return 0, fmt.Errorf("%w: malformed cursor", errs.ErrValidation)
	}
	if !hmac.Equal(raw[8:], c.mac(conversationKey, raw[:8])) {
		return 0, fmt.Errorf("%w: cursor does not belong to this conversation", errs.ErrValidation)
	}
	ts := int64(binary.BigEndian.Uint64(raw[:8]))
	if ts < 0 {
		return 0, fmt.Errorf("%w: malformed cursor", errs.ErrValidation)
	}
	return ts, nil
}

func (c *CursorCodec) mac(conversationKey string, payload []byte) []byte {
	h := hmac.New(sha256.New, c.key)
	h.Write([]byte(conversationKey))
	h.Write([]byte{0})
	h.Write(payload)
	return h.Sum(nil)[:macLen]
}
