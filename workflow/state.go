package workflow

import (
	"sync"

	"github.com/BaSui01/marginflow/types"
)

// ConversationState is the append-only transcript shared by the nodes of one
// thread. It is owned by a single execution at a time.
type ConversationState struct {
	mu       sync.Mutex
	messages *Channel[[]types.Message]
	issued   map[string]struct{}
	answered map[string]struct{}
}

// NewConversationState creates a state seeded with initial messages.
func NewConversationState(initial ...types.Message) (*ConversationState, error) {
	s := &ConversationState{
		messages: NewChannel[[]types.Message]("messages", nil, WithReducer(AppendReducer[types.Message]())),
		issued:   make(map[string]struct{}),
		answered: make(map[string]struct{}),
	}
	if len(initial) > 0 {
		if err := s.Append(initial...); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Append adds messages to the end of the transcript. The batch is validated as
// a whole: if any message breaks the tool-call invariants nothing is appended.
func (s *ConversationState) Append(msgs ...types.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	issued := make(map[string]struct{})
	answered := make(map[string]struct{})
	seen := func(set, pending map[string]struct{}, id string) bool {
		if _, ok := set[id]; ok {
			return true
		}
		_, ok := pending[id]
		return ok
	}

	for i, m := range msgs {
		if !m.Role.Valid() {
			return types.Errorf(types.ErrInvalidTranscript, "message %d: unknown role %q", i, m.Role)
		}
		if m.Role == types.RoleTool && m.ToolCallID == "" {
			return types.Errorf(types.ErrInvalidTranscript, "message %d: tool result without tool_call_id", i)
		}
		if id := m.ToolCallID; id != "" {
			if !seen(s.issued, issued, id) {
				return types.Errorf(types.ErrInvalidTranscript, "message %d: tool_call_id %q was never issued", i, id)
			}
			if seen(s.answered, answered, id) {
				return types.Errorf(types.ErrInvalidTranscript, "message %d: tool_call_id %q already answered", i, id)
			}
			answered[id] = struct{}{}
		}
		for _, call := range m.ToolCalls {
			if call.ID == "" {
				return types.Errorf(types.ErrInvalidTranscript, "message %d: tool call %q has no id", i, call.Name)
			}
			if seen(s.issued, issued, call.ID) {
				return types.Errorf(types.ErrInvalidTranscript, "message %d: duplicate tool call id %q", i, call.ID)
			}
			issued[call.ID] = struct{}{}
		}
	}

	for id := range issued {
		s.issued[id] = struct{}{}
	}
	for id := range answered {
		s.answered[id] = struct{}{}
	}
	s.messages.Update(types.CloneMessages(msgs))
	return nil
}

// Tail returns the last message of the transcript.
func (s *ConversationState) Tail() (types.Message, bool) {
	msgs := s.messages.Get()
	if len(msgs) == 0 {
		return types.Message{}, false
	}
	return msgs[len(msgs)-1].Clone(), true
}

// Messages returns a copy of the transcript.
func (s *ConversationState) Messages() []types.Message {
	return types.CloneMessages(s.messages.Get())
}

// Len returns the number of messages.
func (s *ConversationState) Len() int {
	return len(s.messages.Get())
}

// appends returns how many batches have been appended.
func (s *ConversationState) appends() uint64 {
	return s.messages.Version()
}

// Pending returns the ids of issued tool calls that have no result yet, in
// transcript order.
func (s *ConversationState) Pending() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	var pending []string
	for _, m := range s.messages.Get() {
		for _, call := range m.ToolCalls {
			if _, ok := s.answered[call.ID]; !ok {
				pending = append(pending, call.ID)
			}
		}
	}
	return pending
}
