package thread

import (
	"regexp"
	"sort"
	"strings"
	"time"
)

// Linking methods, strongest first
const (
	LinkMethodReferences = "references-chain"
	LinkMethodSubject    = "subject-heuristic"
)

// Confidence assigned per linking method
const (
	confidenceReferences = 0.95
	confidenceSubject    = 0.55
)

// Message is the thread-relevant projection of a parsed email
type Message struct {
	ID           uint      `json:"id"`
	MessageID    string    `json:"message_id"`
	InReplyTo    string    `json:"in_reply_to,omitempty"`
	References   []string  `json:"references,omitempty"`
	Subject      string    `json:"subject"`
	Participants []string  `json:"participants"`
	Date         time.Time `json:"date"`
	TextBody     string    `json:"-"`
	HTMLBody     string    `json:"-"`
}

// Entry is one message in a reconstructed thread with its quote split
type Entry struct {
	Message Message       `json:"message"`
	Quotes  QuoteAnalysis `json:"quotes"`
}

// Thread is an ordered conversation derived on demand from the parsed
// email set; it is never the source of truth
type Thread struct {
	Entries    []Entry `json:"entries"`
	LinkMethod string  `json:"link_method"`
	Confidence float64 `json:"confidence"`
}

var subjectPrefixPattern = regexp.MustCompile(`(?i)^\s*((re|fwd?|aw|sv|vs|回复|转发)\s*(\[\d+\])?\s*[:：]\s*)+`)

// Build reconstructs the conversation containing root out of pool.
// Exact message-id links (In-Reply-To/References chains) produce a
// high-confidence thread; when no links exist, normalized-subject plus
// shared-participant matching produces a low-confidence one.
func Build(root Message, pool []Message) Thread {
	byMessageID := make(map[string]Message, len(pool)+1)
	for _, msg := range pool {
		if msg.MessageID != "" {
			byMessageID[msg.MessageID] = msg
		}
	}
	if root.MessageID != "" {
		byMessageID[root.MessageID] = root
	}

	members := collectByReferences(root, pool, byMessageID)
	method := LinkMethodReferences
	confidence := confidenceReferences

	if len(members) <= 1 {
		if heuristic := collectBySubject(root, pool); len(heuristic) > 1 {
			members = heuristic
			method = LinkMethodSubject
			confidence = confidenceSubject
		}
	}

	sort.Slice(members, func(i, j int) bool {
		return members[i].Date.Before(members[j].Date)
	})

	thread := Thread{LinkMethod: method, Confidence: confidence}
	for _, msg := range members {
		thread.Entries = append(thread.Entries, Entry{
			Message: msg,
			Quotes:  analyzeBody(msg),
		})
	}
	return thread
}

// collectByReferences walks the message-id link graph from root
func collectByReferences(root Message, pool []Message, byMessageID map[string]Message) []Message {
	// Seed the id set with the root's whole reference chain
	inThread := make(map[string]bool)
	markLinked(root, inThread)
	if root.MessageID != "" {
		inThread[root.MessageID] = true
	}

	// Messages join the thread when any of their ids or links are already
	// in it; repeat until the set stops growing to catch out-of-order input
	members := map[string]Message{}
	if root.MessageID != "" {
		members[root.MessageID] = root
	}
	for changed := true; changed; {
		changed = false
		for _, msg := range pool {
			if msg.MessageID == "" || members[msg.MessageID].MessageID == msg.MessageID {
				continue
			}
			if linksInto(msg, inThread) {
				members[msg.MessageID] = msg
				markLinked(msg, inThread)
				inThread[msg.MessageID] = true
				changed = true
			}
		}
	}

	result := make([]Message, 0, len(members))
	for _, msg := range members {
		result = append(result, msg)
	}
	return result
}

func markLinked(msg Message, set map[string]bool) {
	if msg.InReplyTo != "" {
		set[msg.InReplyTo] = true
	}
	for _, ref := range msg.References {
		set[ref] = true
	}
}

func linksInto(msg Message, set map[string]bool) bool {
	if set[msg.MessageID] {
		return true
	}
	if msg.InReplyTo != "" && set[msg.InReplyTo] {
		return true
	}
	for _, ref := range msg.References {
		if set[ref] {
			return true
		}
	}
	return false
}

// collectBySubject groups messages sharing a normalized subject and at
// least one participant with the root
func collectBySubject(root Message, pool []Message) []Message {
	subject := NormalizeSubject(root.Subject)
	if subject == "" {
		return []Message{root}
	}

	rootParticipants := make(map[string]bool)
	for _, p := range root.Participants {
		rootParticipants[strings.ToLower(p)] = true
	}

	members := []Message{root}
	for _, msg := range pool {
		if msg.MessageID == root.MessageID {
			continue
		}
		if NormalizeSubject(msg.Subject) != subject {
			continue
		}
		if !sharesParticipant(msg, rootParticipants) {
			continue
		}
		members = append(members, msg)
	}
	return members
}

func sharesParticipant(msg Message, participants map[string]bool) bool {
	for _, p := range msg.Participants {
		if participants[strings.ToLower(p)] {
			return true
		}
	}
	return false
}

// NormalizeSubject strips reply/forward prefixes and collapses
// whitespace for heuristic matching
func NormalizeSubject(subject string) string {
	subject = subjectPrefixPattern.ReplaceAllString(subject, "")
	return strings.ToLower(strings.Join(strings.Fields(subject), " "))
}

// analyzeBody picks the quote split for whichever body the message has
func analyzeBody(msg Message) QuoteAnalysis {
	if msg.TextBody != "" {
		return SplitQuotes(msg.TextBody)
	}
	if msg.HTMLBody != "" {
		return SplitQuotesHTML(msg.HTMLBody)
	}
	return QuoteAnalysis{}
}
