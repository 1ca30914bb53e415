package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/roach88/sqlstream/internal/store"
)

// MessageView is the printed form of a committed message.
type MessageView struct {
	Position      int64     `json:"position"`
	StreamID      string    `json:"stream_id"`
	StreamVersion int32     `json:"stream_version"`
	MessageID     string    `json:"message_id"`
	CreatedAt     time.Time `json:"created_at"`
	Type          string    `json:"type"`
	Payload       string    `json:"payload"`
	Metadata      string    `json:"metadata,omitempty"`
}

func newMessageView(m store.Message) MessageView {
	return MessageView{
		Position:      m.Position,
		StreamID:      m.StreamID,
		StreamVersion: m.StreamVersion,
		MessageID:     m.MessageID.String(),
		CreatedAt:     m.CreatedAt,
		Type:          m.Type,
		Payload:       m.Payload,
		Metadata:      m.Metadata,
	}
}

func (m MessageView) String() string {
	return fmt.Sprintf("%d\t%s@%d\t%s\t%s\t%s\t%s",
		m.Position, m.StreamID, m.StreamVersion, m.Type, m.MessageID,
		m.CreatedAt.Format(time.RFC3339Nano), m.Payload)
}

// PageView is the printed form of a read page.
type PageView struct {
	StreamID string        `json:"stream_id,omitempty"`
	Status   string        `json:"status,omitempty"`
	From     int64         `json:"from"`
	Next     int64         `json:"next"`
	IsEnd    bool          `json:"is_end"`
	Messages []MessageView `json:"messages"`
}

func (p PageView) String() string {
	var b strings.Builder
	if p.Status == store.StreamNotFound.String() {
		fmt.Fprintf(&b, "stream %s not found\n", p.StreamID)
	}
	for _, m := range p.Messages {
		b.WriteString(m.String())
		b.WriteByte('\n')
	}
	if p.IsEnd {
		fmt.Fprintf(&b, "(%d messages, end)", len(p.Messages))
	} else {
		fmt.Fprintf(&b, "(%d messages, next %d)", len(p.Messages), p.Next)
	}
	return b.String()
}

func messageViews(msgs []store.Message) []MessageView {
	views := make([]MessageView, len(msgs))
	for i, m := range msgs {
		views[i] = newMessageView(m)
	}
	return views
}

// HeadView reports a store or stream head. Nil fields mean End.
type HeadView struct {
	StreamID string `json:"stream_id,omitempty"`
	Version  *int32 `json:"version,omitempty"`
	Position *int64 `json:"position"`
}

func newHeadView(streamID string, version *store.StreamVersion, pos store.Position) HeadView {
	h := HeadView{StreamID: streamID}
	if p, ok := pos.Value(); ok {
		h.Position = &p
	}
	if version != nil {
		if v, ok := version.Value(); ok {
			h.Version = &v
		}
	}
	return h
}

func (h HeadView) String() string {
	pos := "end"
	if h.Position != nil {
		pos = fmt.Sprint(*h.Position)
	}
	if h.StreamID == "" {
		return "position " + pos
	}
	ver := "end"
	if h.Version != nil {
		ver = fmt.Sprint(*h.Version)
	}
	return fmt.Sprintf("%s: version %s, position %s", h.StreamID, ver, pos)
}

// CountView reports a message count.
type CountView struct {
	StreamID string     `json:"stream_id"`
	Before   *time.Time `json:"before,omitempty"`
	Count    int        `json:"count"`
}

func (c CountView) String() string {
	if c.Before != nil {
		return fmt.Sprintf("%s: %d messages before %s", c.StreamID, c.Count, c.Before.Format(time.RFC3339))
	}
	return fmt.Sprintf("%s: %d messages", c.StreamID, c.Count)
}
