// Package session owns the per-conversation state machine: one ChatSession
// per browser page, a registry supervising them, and the publisher port the
// dashboard listens on.
package session

import (
	"time"

	"github.com/google/uuid"

	"chatdock/internal/classify"
)

// State is the mutable snapshot of one session. Messages grow monotonically
// within a session instance; a reload replaces the instance rather than
// truncating history.
type State struct {
	Agent     classify.AgentInfo `json:"agent"`
	Messages  []classify.Message `json:"messages"`
	WaitTime  *int64             `json:"waitTime"`
	AutoReply bool               `json:"autoReply"`
	Running   bool               `json:"running"`
	Closed    bool               `json:"closed"`
}

// Activity is one human-readable status line for the dashboard stream.
type Activity struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Date int64  `json:"date"`
}

func newActivity(text string) Activity {
	return Activity{ID: uuid.NewString(), Text: text, Date: time.Now().UnixMilli()}
}

// Patch is a partial state update with per-field merge semantics: scalar
// fields overwrite when present, Messages are concatenated and deduplicated
// by id, Activities are appended by the receiver.
type Patch struct {
	Agent      *classify.AgentInfo `json:"agent,omitempty"`
	Messages   []classify.Message  `json:"messages,omitempty"`
	WaitTime   *int64              `json:"waitTime,omitempty"`
	AutoReply  *bool               `json:"autoReply,omitempty"`
	Running    *bool               `json:"running,omitempty"`
	Closed     *bool               `json:"closed,omitempty"`
	Activities []Activity          `json:"activities,omitempty"`
}

// Apply merges p into st and returns the messages that were actually new
// (already-known ids are dropped, never duplicated).
func (st *State) Apply(p Patch) []classify.Message {
	if p.Agent != nil {
		st.Agent = *p.Agent
	}
	if p.WaitTime != nil {
		st.WaitTime = p.WaitTime
	}
	if p.AutoReply != nil {
		st.AutoReply = *p.AutoReply
	}
	if p.Running != nil {
		st.Running = *p.Running
	}
	if p.Closed != nil {
		st.Closed = *p.Closed
	}
	var added []classify.Message
	if len(p.Messages) > 0 {
		seen := make(map[string]bool, len(st.Messages))
		for _, m := range st.Messages {
			seen[m.ID] = true
		}
		for _, m := range p.Messages {
			if m.ID != "" && seen[m.ID] {
				continue
			}
			seen[m.ID] = true
			st.Messages = append(st.Messages, m)
			added = append(added, m)
		}
	}
	return added
}

// Publisher is the one-way fan-out toward dashboard listeners.
type Publisher interface {
	// PublishState delivers a state delta for the session id.
	PublishState(id string, patch Patch)
}

// NopPublisher discards everything. Useful default for tests and tools.
type NopPublisher struct{}

func (NopPublisher) PublishState(string, Patch) {}

func boolPtr(b bool) *bool    { return &b }
func int64Ptr(n int64) *int64 { return &n }
