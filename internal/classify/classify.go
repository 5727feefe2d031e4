// Package classify maps intercepted vendor network exchanges to domain
// events. It is stateless: one Exchange in, one Event out, with most traffic
// classified as ignored by cheap path-substring checks.
package classify

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Vendor path fragments, matched origin-agnostically by substring.
const (
	PathConversationNew = "/api/livechat/conversation/new"
	PathChatUsers       = "/api/livechat/conversation/chatUsers"
	PathNotifications   = "/api/livechat/event/fetch-notifications"
	PathWaitTime        = "/api/livechat/conversation/fetch-wait-time-and-queue-position"
	PathWaitTimeAlt     = "/api/livechat/conversation/fetch-wait-time-and-queue-positionflix-live-chat"
	PathSendEcho        = "/api/livechat/conversation/send"
	PathSecureResource  = "/api/pci/resources"
	PathAuthorize       = "/interface/chat/startVendorChat"
	PathSurvey          = "survey-app.sprinklr.com/index.html"
)

// Exchange is one intercepted HTTP response, URL stripped of query/fragment.
type Exchange struct {
	URL    string
	Status int
	Body   []byte
}

// Kind tags a classified domain event.
type Kind int

const (
	KindIgnored Kind = iota
	KindRequestFailed
	KindConversationStarted
	KindAgentFound
	KindNewMessages
	KindWaitTime
	KindConversationClosed
	KindSendEcho
	KindSecureForm
)

func (k Kind) String() string {
	switch k {
	case KindIgnored:
		return "ignored"
	case KindRequestFailed:
		return "request-failed"
	case KindConversationStarted:
		return "conversation-started"
	case KindAgentFound:
		return "agent-found"
	case KindNewMessages:
		return "new-messages"
	case KindWaitTime:
		return "wait-time-update"
	case KindConversationClosed:
		return "conversation-closed"
	case KindSendEcho:
		return "send-echo"
	case KindSecureForm:
		return "secure-form"
	default:
		return "unknown"
	}
}

// AgentInfo identifies the human agent assigned to a conversation.
type AgentInfo struct {
	UserID    string `json:"userId"`
	FirstName string `json:"firstName,omitempty"`
	LastName  string `json:"lastName,omitempty"`
	FullName  string `json:"fullName"`
}

// Empty reports whether no agent has been captured.
func (a AgentInfo) Empty() bool { return a.UserID == "" }

// PayloadNewMessage is the notification payload type carrying chat text.
const PayloadNewMessage = "NEW_MESSAGE"

// SystemSender is the virtual sender marking system notifications; a batch is
// scanned only past its last occurrence.
const SystemSender = "P_-100"

// Message is one chat message as delivered by the notification feed.
// Immutable once recorded.
type Message struct {
	ID           string          `json:"id"`
	Sender       string          `json:"sender"`
	Text         string          `json:"text"`
	CreationTime int64           `json:"creationTime"`
	PayloadType  string          `json:"payloadType,omitempty"`
	Raw          json.RawMessage `json:"-"`
}

// Event is the classifier output.
type Event struct {
	Kind     Kind
	Status   int
	Fatal    bool // request-failed on the chat authorize path
	Agent    AgentInfo
	Messages []Message
	WaitTime int64 // milliseconds
}

// Classify applies the rules in priority order. Body parse failures never
// error: rules that need JSON simply do not fire.
func Classify(ex Exchange) Event {
	if ex.Status < 200 || ex.Status >= 300 {
		return Event{
			Kind:   KindRequestFailed,
			Status: ex.Status,
			Fatal:  strings.Contains(ex.URL, PathAuthorize),
		}
	}

	switch {
	case strings.Contains(ex.URL, PathConversationNew):
		return Event{Kind: KindConversationStarted}

	case strings.Contains(ex.URL, PathChatUsers):
		var agents []AgentInfo
		if err := json.Unmarshal(ex.Body, &agents); err != nil || len(agents) == 0 {
			return Event{Kind: KindIgnored}
		}
		return Event{Kind: KindAgentFound, Agent: agents[0]}

	case strings.Contains(ex.URL, PathNotifications):
		msgs, ok := decodeNotifications(ex.Body)
		if !ok {
			return Event{Kind: KindIgnored}
		}
		return Event{Kind: KindNewMessages, Messages: msgs}

	case strings.Contains(ex.URL, PathWaitTime), strings.Contains(ex.URL, PathWaitTimeAlt):
		var body struct {
			WaitTime int64 `json:"waitTime"`
		}
		if err := json.Unmarshal(ex.Body, &body); err != nil {
			return Event{Kind: KindIgnored}
		}
		return Event{Kind: KindWaitTime, WaitTime: body.WaitTime}

	case strings.Contains(ex.URL, PathSurvey):
		return Event{Kind: KindConversationClosed}

	case strings.Contains(ex.URL, PathSendEcho):
		msgs, ok := decodeNotifications(ex.Body)
		if !ok || len(msgs) == 0 {
			return Event{Kind: KindIgnored}
		}
		return Event{Kind: KindSendEcho, Messages: msgs}

	case strings.Contains(ex.URL, PathSecureResource):
		return Event{Kind: KindSecureForm}
	}

	return Event{Kind: KindIgnored}
}

// wireMessage is the notification feed entry shape.
type wireMessage struct {
	ID           json.RawMessage `json:"id"`
	Sender       string          `json:"sender"`
	Text         string          `json:"text"`
	CreationTime int64           `json:"creationTime"`
	Payload      struct {
		Type                string `json:"type"`
		NotificationContent string `json:"notificationContent"`
	} `json:"payload"`
}

func decodeNotifications(body []byte) ([]Message, bool) {
	var envelope struct {
		Results []json.RawMessage `json:"results"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Results == nil {
		return nil, false
	}
	msgs := make([]Message, 0, len(envelope.Results))
	for _, raw := range envelope.Results {
		var wm wireMessage
		if err := json.Unmarshal(raw, &wm); err != nil {
			continue
		}
		m := Message{
			ID:           rawID(wm.ID),
			Sender:       wm.Sender,
			Text:         wm.Text,
			CreationTime: wm.CreationTime,
			PayloadType:  wm.Payload.Type,
			Raw:          raw,
		}
		if m.Text == "" {
			m.Text = wm.Payload.NotificationContent
		}
		msgs = append(msgs, m)
	}
	return msgs, true
}

// rawID tolerates string or numeric message ids.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return strconv.FormatInt(n, 10)
	}
	return string(raw)
}
