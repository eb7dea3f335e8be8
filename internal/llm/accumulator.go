package llm

import (
	"encoding/json"
	"sort"
)

// Accumulator assembles tool calls from fragments streamed across chunks.
// Slots are keyed by the stream index; a slot becomes executable only once
// its name is non-empty and its arguments string parses as JSON.
type Accumulator struct {
	slots map[int]*slot
}

type slot struct {
	id   string
	name string
	args string
}

// NewAccumulator creates an empty accumulator for one model turn.
func NewAccumulator() *Accumulator {
	return &Accumulator{slots: make(map[int]*slot)}
}

// Apply merges one fragment into its slot.
func (a *Accumulator) Apply(d ToolCallDelta) {
	s, ok := a.slots[d.Index]
	if !ok {
		s = &slot{}
		a.slots[d.Index] = s
	}
	if d.ID != "" {
		s.id = d.ID
	}
	s.name += d.Name
	s.args += d.Arguments
}

// Len returns the number of slots seen this turn, complete or not.
func (a *Accumulator) Len() int { return len(a.slots) }

// Finalize promotes completed slots to executable tool calls, in index
// order. Slots with an empty name or arguments that do not parse as JSON
// are dropped; dropped is the count of such slots. A bad slot never
// affects its neighbours.
func (a *Accumulator) Finalize() (calls []ToolCall, dropped int) {
	indexes := make([]int, 0, len(a.slots))
	for i := range a.slots {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)

	for _, i := range indexes {
		s := a.slots[i]
		args := s.args
		if args == "" {
			args = "{}"
		}
		if s.name == "" || !json.Valid([]byte(args)) {
			dropped++
			continue
		}
		calls = append(calls, ToolCall{
			ID:   s.id,
			Type: "function",
			Function: ToolCallFunction{
				Name:      s.name,
				Arguments: args,
			},
		})
	}
	return calls, dropped
}
