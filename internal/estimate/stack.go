package estimate

// CallStack is an immutable linked list of the normalized questions in
// flight for one top-level request. Push returns a new stack and never
// modifies the receiver, so parallel branches can share a parent safely.
// A nil *CallStack is the empty stack.
type CallStack struct {
	question string
	parent   *CallStack
	depth    int
}

// Push returns a stack with question on top.
func (s *CallStack) Push(question string) *CallStack {
	return &CallStack{question: Normalize(question), parent: s, depth: s.Len() + 1}
}

// Contains reports whether the normalized question is already in flight.
func (s *CallStack) Contains(question string) bool {
	n := Normalize(question)
	for cur := s; cur != nil; cur = cur.parent {
		if cur.question == n {
			return true
		}
	}
	return false
}

// Len returns the number of frames.
func (s *CallStack) Len() int {
	if s == nil {
		return 0
	}
	return s.depth
}

// Frames returns the questions from bottom to top.
func (s *CallStack) Frames() []string {
	out := make([]string, s.Len())
	i := len(out) - 1
	for cur := s; cur != nil; cur = cur.parent {
		out[i] = cur.question
		i--
	}
	return out
}
