package model

const (
	FrameSnapshot = "snapshot"
	FrameLive     = "live"
	FrameMessage  = "message"
	FrameError    = "error"
)

// Frame is one server push on a conversation subscription.
type Frame struct {
	Type     string     `json:"type"`
	Messages []*Message `json:"messages,omitempty"`
	Message  *Message   `json:"message,omitempty"`
	Cursor   string     `json:"cursor,omitempty"`
	Error    string     `json:"error,omitempty"`
}
