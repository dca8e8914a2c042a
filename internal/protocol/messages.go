package protocol

import "time"

// ChatEvent is one chat message as delivered by a chat adapter.
type ChatEvent struct {
	AuthorID  int64     `json:"author_id"`
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
	Bot       bool      `json:"bot,omitempty"`
	Webhook   bool      `json:"webhook,omitempty"`
	System    bool      `json:"system,omitempty"`
}

// ComposeRequest asks for a track built from recent chat history.
type ComposeRequest struct {
	RequestID string      `json:"request_id,omitempty"`
	ChannelID string      `json:"channel_id,omitempty"`
	Events    []ChatEvent `json:"events"`
}

// ComposeReply carries the rendered track or the reason there is none.
type ComposeReply struct {
	RequestID string  `json:"request_id"`
	Status    string  `json:"status"`
	Audio     []byte  `json:"audio,omitempty"`
	Duration  float64 `json:"duration,omitempty"`
	Caption   string  `json:"caption,omitempty"`
	Notes     int     `json:"notes,omitempty"`
	Backend   string  `json:"backend,omitempty"`
	Error     string  `json:"error,omitempty"`
}

// ComposeStatus is broadcast after every request, without the audio payload.
type ComposeStatus struct {
	RequestID string    `json:"request_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	Status    string    `json:"status"`
	Notes     int       `json:"notes"`
	Duration  float64   `json:"duration"`
	Backend   string    `json:"backend,omitempty"`
	Fallback  string    `json:"fallback,omitempty"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	StatusOK     = "ok"
	StatusEmpty  = "empty"
	StatusFailed = "failed"
)

// NodeAnnounce advertises a composer node and what it can render.
type NodeAnnounce struct {
	NodeID       string       `json:"node_id"`
	Role         string       `json:"role"`
	Capabilities []Capability `json:"capabilities"`
	Timestamp    time.Time    `json:"timestamp"`
}

type Capability struct {
	Name       string            `json:"name"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

// NodeHeartbeat reports liveness and current render load.
type NodeHeartbeat struct {
	NodeID    string    `json:"node_id"`
	Active    int       `json:"active"`
	Capacity  int       `json:"capacity"`
	Timestamp time.Time `json:"timestamp"`
}

const (
	SubjectComposeRequest = "compose.request"
	SubjectComposeDone    = "compose.done"
	SubjectNodeAnnounce   = "compose.node.announce"
	// heartbeats are published on SubjectNodeHeartbeat + "." + node id
	SubjectNodeHeartbeat = "compose.node.heartbeat"
)
