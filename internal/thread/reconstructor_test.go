package thread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threadMsg(id uint, messageID, inReplyTo, subject string, offset int, participants ...string) Message {
	return Message{
		ID:           id,
		MessageID:    messageID,
		InReplyTo:    inReplyTo,
		Subject:      subject,
		Participants: participants,
		Date:         time.Date(2025, 7, 1, 10, 0, 0, 0, time.UTC).Add(time.Duration(offset) * time.Minute),
		TextBody:     "body of " + messageID,
	}
}

func TestBuild_ReferencesChain(t *testing.T) {
	root := threadMsg(1, "a@x", "", "Plans", 0, "alice@x", "bob@x")
	reply := threadMsg(2, "b@x", "a@x", "Re: Plans", 10, "bob@x", "alice@x")
	replyToReply := threadMsg(3, "c@x", "b@x", "Re: Plans", 20, "alice@x", "bob@x")
	unrelated := threadMsg(4, "d@x", "", "Invoice", 5, "carol@x")

	thread := Build(reply, []Message{root, replyToReply, unrelated})

	assert.Equal(t, LinkMethodReferences, thread.LinkMethod)
	assert.InDelta(t, 0.95, thread.Confidence, 0.001)
	require.Len(t, thread.Entries, 3)

	// Chronological order
	assert.Equal(t, "a@x", thread.Entries[0].Message.MessageID)
	assert.Equal(t, "b@x", thread.Entries[1].Message.MessageID)
	assert.Equal(t, "c@x", thread.Entries[2].Message.MessageID)
}

func TestBuild_OutOfOrderReferences(t *testing.T) {
	// The link between root and the latest message only exists through
	// the middle one; the fixpoint walk must still pick up all three
	root := threadMsg(1, "a@x", "", "Topic", 0, "alice@x")
	middle := threadMsg(2, "b@x", "a@x", "Re: Topic", 10, "alice@x")
	latest := threadMsg(3, "c@x", "b@x", "Re: Topic", 20, "alice@x")

	thread := Build(root, []Message{latest, middle})

	assert.Equal(t, LinkMethodReferences, thread.LinkMethod)
	assert.Len(t, thread.Entries, 3)
}

func TestBuild_SubjectHeuristic(t *testing.T) {
	// No message-id links at all; same normalized subject and a shared
	// participant group the messages with reduced confidence
	root := threadMsg(1, "a@x", "", "Lunch plans", 0, "alice@x", "bob@x")
	reply := threadMsg(2, "b@x", "", "Re: Lunch plans", 15, "bob@x", "alice@x")
	otherTopic := threadMsg(3, "c@x", "", "Budget", 5, "alice@x")
	samSubjectNoShared := threadMsg(4, "d@x", "", "Re: Lunch plans", 30, "dave@y")

	thread := Build(root, []Message{reply, otherTopic, samSubjectNoShared})

	assert.Equal(t, LinkMethodSubject, thread.LinkMethod)
	assert.InDelta(t, 0.55, thread.Confidence, 0.001)
	require.Len(t, thread.Entries, 2)
	assert.Equal(t, "a@x", thread.Entries[0].Message.MessageID)
	assert.Equal(t, "b@x", thread.Entries[1].Message.MessageID)
}

func TestBuild_SingleMessage(t *testing.T) {
	root := threadMsg(1, "only@x", "", "Alone", 0, "alice@x")
	thread := Build(root, nil)

	assert.Equal(t, LinkMethodReferences, thread.LinkMethod)
	require.Len(t, thread.Entries, 1)
	assert.Equal(t, "only@x", thread.Entries[0].Message.MessageID)
}

func TestBuild_EntriesCarryQuoteSplit(t *testing.T) {
	root := threadMsg(1, "a@x", "", "Q", 0, "alice@x")
	reply := threadMsg(2, "b@x", "a@x", "Re: Q", 10, "alice@x")
	reply.TextBody = "New answer.\n> quoted original"

	thread := Build(root, []Message{reply})

	require.Len(t, thread.Entries, 2)
	quotes := thread.Entries[1].Quotes
	assert.True(t, quotes.HasQuotedContent)
	assert.Equal(t, "New answer.", quotes.NewContent)
}

func TestNormalizeSubject(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"Re: Hello", "hello"},
		{"RE: FWD: Hello  World", "hello world"},
		{"Fwd: Re: Hello", "hello"},
		{"AW: Hello", "hello"},
		{"回复: 你好", "你好"},
		{"Hello", "hello"},
		{"Re[2]: Hello", "hello"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, NormalizeSubject(tt.in), "input %q", tt.in)
	}
}
