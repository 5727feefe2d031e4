package session

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"

	"chatdock/internal/classify"
)

func TestStateApplyScalars(t *testing.T) {
	var st State
	agent := classify.AgentInfo{UserID: "u1", FullName: "Jane Doe"}
	st.Apply(Patch{
		Agent:     &agent,
		WaitTime:  int64Ptr(5000),
		AutoReply: boolPtr(true),
		Running:   boolPtr(true),
	})

	if st.Agent != agent || !st.AutoReply || !st.Running {
		t.Fatalf("scalars not applied: %+v", st)
	}
	if st.WaitTime == nil || *st.WaitTime != 5000 {
		t.Fatalf("waitTime = %v, want 5000", st.WaitTime)
	}

	// A patch without a field leaves it alone.
	st.Apply(Patch{Closed: boolPtr(true)})
	if !st.Running || !st.Closed {
		t.Fatalf("partial patch clobbered state: %+v", st)
	}
}

func TestStateApplyDeduplicatesMessages(t *testing.T) {
	var st State
	m1 := classify.Message{ID: "m1", Sender: "P_7", Text: "hello"}
	m2 := classify.Message{ID: "m2", Sender: "V_1", Text: "hi"}

	added := st.Apply(Patch{Messages: []classify.Message{m1, m2}})
	if diff := cmp.Diff([]classify.Message{m1, m2}, added); diff != "" {
		t.Errorf("first apply (-want +got):\n%s", diff)
	}

	// Replayed batch plus one genuinely new message.
	m3 := classify.Message{ID: "m3", Sender: "P_7", Text: "still there?"}
	added = st.Apply(Patch{Messages: []classify.Message{m1, m2, m3}})
	if diff := cmp.Diff([]classify.Message{m3}, added); diff != "" {
		t.Errorf("replayed apply (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]classify.Message{m1, m2, m3}, st.Messages); diff != "" {
		t.Errorf("history (-want +got):\n%s", diff)
	}
}

func TestStateApplyKeepsEmptyIDMessages(t *testing.T) {
	var st State
	st.Apply(Patch{Messages: []classify.Message{{Text: "a"}, {Text: "b"}}})
	want := []classify.Message{{Text: "a"}, {Text: "b"}}
	if diff := cmp.Diff(want, st.Messages, cmpopts.EquateEmpty()); diff != "" {
		t.Errorf("id-less messages (-want +got):\n%s", diff)
	}
}
