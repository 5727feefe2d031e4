package policy

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"chatdock/internal/classify"
)

// A message long enough to read as templated rather than typed.
const templated = "Thanks for reaching out! One of our specialists will be with you shortly. In the meantime you can review our help center for common questions and answers."

func TestIsAgentSender(t *testing.T) {
	assert.True(t, IsAgentSender("P_7"))
	assert.True(t, IsAgentSender("P_12345"))
	assert.False(t, IsAgentSender("P_-100"))
	assert.False(t, IsAgentSender("V_1"))
	assert.False(t, IsAgentSender(""))
}

func TestScanEscalation(t *testing.T) {
	tests := []struct {
		name   string
		msg    classify.Message
		wantOK bool
	}{
		{
			name:   "open question",
			msg:    classify.Message{Sender: "P_7", Text: "Can you confirm your email?"},
			wantOK: true,
		},
		{
			name:   "asks for email without link",
			msg:    classify.Message{Sender: "P_7", Text: "Please share the email on your account so I can look it up."},
			wantOK: true,
		},
		{
			name:   "asks for name without link",
			msg:    classify.Message{Sender: "P_7", Text: "I just need the name on the account to proceed with this request today."},
			wantOK: true,
		},
		{
			name:   "email mention with link is templated",
			msg:    classify.Message{Sender: "P_7", Text: "Update your email preferences here: https://example.com/prefs " + templated},
			wantOK: false,
		},
		{
			name:   "short free-form",
			msg:    classify.Message{Sender: "P_7", Text: "one moment please"},
			wantOK: true,
		},
		{
			name:   "short closing warning stays automated",
			msg:    classify.Message{Sender: "P_7", Text: "This chat will close in 2 minutes."},
			wantOK: false,
		},
		{
			name:   "long templated text stays automated",
			msg:    classify.Message{Sender: "P_7", Text: templated},
			wantOK: false,
		},
		{
			name:   "system sender never escalates",
			msg:    classify.Message{Sender: "P_-100", Text: "Are you still there?"},
			wantOK: false,
		},
		{
			name:   "visitor echo never escalates",
			msg:    classify.Message{Sender: "V_1", Text: "what?"},
			wantOK: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reason, ok := ScanEscalation(tt.msg)
			if ok != tt.wantOK {
				t.Fatalf("ScanEscalation(%q) ok = %v, want %v", tt.msg.Text, ok, tt.wantOK)
			}
			if ok && reason == "" {
				t.Error("escalation must carry a reason")
			}
		})
	}
}

func TestDecide(t *testing.T) {
	link := func(id string) classify.Message {
		return classify.Message{ID: id, Sender: "P_7", Text: "See https://example.com/help " + templated}
	}

	tests := []struct {
		name     string
		messages []classify.Message
		want     Decision
	}{
		{
			name: "empty history",
			want: DecisionNone,
		},
		{
			name:     "system nudge",
			messages: []classify.Message{{Sender: "P_-100", Text: "Are you still there?"}},
			want:     DecisionSend,
		},
		{
			name:     "first templated link",
			messages: []classify.Message{link("a")},
			want:     DecisionSend,
		},
		{
			name:     "third templated link trips the loop breaker",
			messages: []classify.Message{link("a"), link("b"), link("c")},
			want:     DecisionReload,
		},
		{
			name: "old links count even when interleaved",
			messages: []classify.Message{
				link("a"),
				{Sender: "V_1", Text: "ok"},
				link("b"),
				{Sender: "V_1", Text: "ok"},
				link("c"),
			},
			want: DecisionReload,
		},
		{
			name:     "closing warning",
			messages: []classify.Message{{Sender: "P_7", Text: "This chat will close in 2 minutes."}},
			want:     DecisionSend,
		},
		{
			name:     "agent text without link or warning",
			messages: []classify.Message{{Sender: "P_7", Text: templated}},
			want:     DecisionNone,
		},
		{
			name:     "visitor last",
			messages: []classify.Message{link("a"), {Sender: "V_1", Text: "thanks"}},
			want:     DecisionNone,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, reason := Decide(tt.messages)
			if got != tt.want {
				t.Fatalf("Decide() = %v (%q), want %v", got, reason, tt.want)
			}
		})
	}
}

func TestPickReplySplitsTemplate(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	got := PickReply([]string{"first line:second line:third line"}, r)
	want := []string{"first line", "second line", "third line"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("PickReply mismatch (-want +got):\n%s", diff)
	}
}

func TestPickReplyCoversPool(t *testing.T) {
	pool := []string{"a", "b:c", "d"}
	r := rand.New(rand.NewSource(42))
	seen := map[string]bool{}
	for i := 0; i < 200; i++ {
		seen[strings.Join(PickReply(pool, r), ":")] = true
	}
	assert.Len(t, seen, len(pool))
	assert.Nil(t, PickReply(nil, r))
}
