// Package policy encapsulates the reply heuristics: which inbound agent
// messages force a hand-off to a human, and what the bot does with the last
// known message once the debounce window closes. Everything here is a pure
// function over message history.
package policy

import (
	"math/rand"
	"strings"

	"chatdock/internal/classify"
)

// closingSoonPhrases are the canned "conversation is about to close" warnings.
// A message containing one is treated as templated, not free-form.
var closingSoonPhrases = []string{
	"2 minute",
	"two minute",
	"one minute",
	"1 minute",
	"two-minute",
	"one-minute",
	"next-minute",
}

// freeFormMaxLen is the length under which an unrecognized agent message is
// assumed to be typed by hand.
const freeFormMaxLen = 100

// templateLoopThreshold is how many historical agent link messages mark a
// stuck template loop.
const templateLoopThreshold = 3

// IsAgentSender reports whether the sender tag denotes the human agent.
// "P_-..." tags are virtual system senders, not agents.
func IsAgentSender(sender string) bool {
	return strings.HasPrefix(sender, "P_") && !strings.HasPrefix(sender, "P_-")
}

// MatchesClosingSoon reports whether text contains a closing-soon phrase.
func MatchesClosingSoon(text string) bool {
	lower := strings.ToLower(text)
	for _, p := range closingSoonPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}

// ScanEscalation checks one message against the escalation rules, first match
// wins. ok=true means auto-reply must be suspended; reason is the
// human-readable activity line.
func ScanEscalation(m classify.Message) (reason string, ok bool) {
	if !IsAgentSender(m.Sender) {
		return "", false
	}
	if strings.HasSuffix(m.Text, "?") {
		return "agent asked an open question", true
	}
	if !strings.Contains(m.Text, "https://") &&
		(strings.Contains(m.Text, "email") || strings.Contains(m.Text, "name")) {
		return "agent asked for a name or email", true
	}
	if len(m.Text) < freeFormMaxLen && !MatchesClosingSoon(m.Text) {
		return "agent sent a short free-form message", true
	}
	return "", false
}

// Decision is the debounce-time verdict.
type Decision int

const (
	// DecisionNone: nothing pending warrants a scripted reply.
	DecisionNone Decision = iota
	// DecisionSend: send one scripted reply set.
	DecisionSend
	// DecisionReload: stuck template loop, restart the session instead.
	DecisionReload
)

// Decide inspects the last known message against the full history. Note the
// history-wide link count: every agent message containing https:// ever seen
// in this session instance counts toward the loop threshold.
func Decide(messages []classify.Message) (Decision, string) {
	if len(messages) == 0 {
		return DecisionNone, ""
	}
	last := messages[len(messages)-1]

	if strings.HasPrefix(last.Sender, "P_-") {
		return DecisionSend, "nudging after system message " + last.Sender
	}

	if IsAgentSender(last.Sender) && strings.Contains(last.Text, "https://") {
		links := 0
		for _, m := range messages {
			if IsAgentSender(m.Sender) && strings.Contains(m.Text, "https://") {
				links++
			}
		}
		if links >= templateLoopThreshold {
			return DecisionReload, "templated link repeated, restarting"
		}
		return DecisionSend, "replying to templated link"
	}

	if IsAgentSender(last.Sender) && MatchesClosingSoon(last.Text) {
		return DecisionSend, "replying to closing warning"
	}

	return DecisionNone, ""
}

// PickReply selects one reply template at random and splits it into its
// ordered sub-messages (templates encode sequential lines with ":").
func PickReply(templates []string, r *rand.Rand) []string {
	if len(templates) == 0 {
		return nil
	}
	return strings.Split(templates[r.Intn(len(templates))], ":")
}
