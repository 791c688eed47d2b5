package flow

import (
	"errors"
	"regexp"
	"strconv"
	"strings"

	"github.com/tbourn/go-wa-backend/internal/validate"
)

const (
	// DefaultMaxRetries applies when an input step does not set maxRetries.
	DefaultMaxRetries = 3
	// DefaultMaxHops bounds how many nodes one turn may execute.
	DefaultMaxHops = 50

	// SessionEndedMessage is sent when a contact exhausts the retries.
	SessionEndedMessage = "Too many invalid attempts. Session ended."

	invalidInput  = "Invalid input. Please try again."
	invalidEmail  = "Please enter a valid email address."
	invalidNumber = "Please enter a valid number."
)

// ErrHopLimit is returned when a turn runs more than MaxHops nodes, which
// only happens for graphs with cycles of non-waiting nodes.
var ErrHopLimit = errors.New("flow hop limit reached")

// Output kinds.
const (
	OutText    = "text"
	OutButtons = "buttons"
	OutList    = "list"
)

// Output is one message the caller must send.
type Output struct {
	Kind       string
	Text       string
	Choices    []Choice
	ButtonText string
}

// Choice is an interactive button or list row. ID is the edge handle, so
// the reply id maps straight back to the branch.
type Choice struct {
	ID          string
	Title       string
	Description string
}

// Contact supplies {{contact.*}} placeholders.
type Contact struct {
	Name  string
	Phone string
}

// Input is an inbound reply: free text and, for interactive replies, the
// id of the chosen button or row.
type Input struct {
	Text    string
	ReplyID string
}

// State is the persisted position of a session.
type State struct {
	Node    string
	Vars    map[string]string
	Retries int
	Done    bool
	Handoff bool
}

// Engine executes graphs. The zero value is ready to use.
type Engine struct {
	MaxHops int
}

// Start runs g from its start node.
func (e Engine) Start(g *Graph, c Contact) (State, []Output, error) {
	start := g.Start()
	if start == nil {
		return State{Done: true}, nil, ErrInvalidGraph
	}
	return e.run(g, State{Vars: map[string]string{}}, start, c)
}

// Continue feeds one reply into a waiting session.
func (e Engine) Continue(g *Graph, st State, c Contact, in Input) (State, []Output, error) {
	if st.Vars == nil {
		st.Vars = map[string]string{}
	}
	n := g.Node(st.Node)
	if n == nil {
		st.Done = true
		return st, nil, nil
	}

	if s, ok := n.last(); ok && isInput(s.Type) {
		if msg, valid := checkInput(s, in.Text); !valid {
			if st.Retries < maxRetries(s) {
				st.Retries++
				return st, []Output{{Kind: OutText, Text: msg}}, nil
			}
			st.Done = true
			return st, []Output{{Kind: OutText, Text: SessionEndedMessage}}, nil
		}
		st.Retries = 0
		if s.Variable != "" {
			st.Vars[s.Variable] = strings.TrimSpace(in.Text)
		}
	}

	next := g.Node(g.next(n, in))
	if next == nil {
		st.Done = true
		return st, nil, nil
	}
	return e.run(g, st, next, c)
}

func (e Engine) run(g *Graph, st State, n *Node, c Contact) (State, []Output, error) {
	limit := e.MaxHops
	if limit <= 0 {
		limit = DefaultMaxHops
	}
	var out []Output
	for hops := 0; ; hops++ {
		if hops >= limit {
			st.Done = true
			return st, out, ErrHopLimit
		}
		st.Node = n.ID
		st.Retries = 0

		for si, s := range n.Data.Steps {
			text := render(s.Content, c, st.Vars)
			switch s.Type {
			case StepText:
				out = append(out, Output{Kind: OutText, Text: text})
			case StepQuickReply:
				o := Output{Kind: OutButtons, Text: text}
				for bi, b := range s.Buttons {
					if bi == MaxButtons {
						break
					}
					o.Choices = append(o.Choices, Choice{ID: Handle(si, bi), Title: b.Label})
				}
				out = append(out, o)
			case StepList:
				o := Output{Kind: OutList, Text: text, ButtonText: s.ButtonText}
				for oi, opt := range s.Options {
					if oi == MaxListOptions {
						break
					}
					o.Choices = append(o.Choices, Choice{ID: Handle(si, oi), Title: opt.Title, Description: opt.Description})
				}
				out = append(out, o)
			case StepTextInput, StepNumberInput, StepEmailInput:
				// the question usually sits in a preceding Text step
				if text != "" {
					out = append(out, Output{Kind: OutText, Text: text})
				}
			case StepHandoff:
				if text != "" {
					out = append(out, Output{Kind: OutText, Text: text})
				}
				st.Done, st.Handoff = true, true
				return st, out, nil
			}
		}

		if n.waits() {
			return st, out, nil
		}
		n = g.Node(g.next(n, Input{}))
		if n == nil {
			st.Done = true
			return st, out, nil
		}
	}
}

// render substitutes {{contact.name}}, {{contact.phone}} and {{vars.X}}.
// Unknown placeholders are left as written.
func render(s string, c Contact, vars map[string]string) string {
	if !strings.Contains(s, "{{") {
		return s
	}
	pairs := []string{"{{contact.name}}", c.Name, "{{contact.phone}}", c.Phone}
	for k, v := range vars {
		pairs = append(pairs, "{{vars."+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(s)
}

func maxRetries(s Step) int {
	if s.Validation != nil && s.Validation.MaxRetries.Set && s.Validation.MaxRetries.Value >= 0 {
		return int(s.Validation.MaxRetries.Value)
	}
	return DefaultMaxRetries
}

// checkInput returns the error message to send and whether text passes.
func checkInput(s Step, text string) (string, bool) {
	v := s.Validation
	custom := v != nil && v.ErrorMessage != ""
	fail := func(def string) (string, bool) {
		if custom {
			return v.ErrorMessage, false
		}
		return def, false
	}
	text = strings.TrimSpace(text)

	switch s.Type {
	case StepEmailInput:
		if (v == nil || v.Regex == "") && !validate.Email(text) {
			return fail(invalidEmail)
		}
	case StepNumberInput:
		f, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return fail(invalidNumber)
		}
		if v != nil && ((v.Min.Set && f < v.Min.Value) || (v.Max.Set && f > v.Max.Value)) {
			return fail(invalidInput)
		}
	}
	if v != nil && v.Regex != "" {
		if re, err := regexp.Compile(v.Regex); err == nil && !re.MatchString(text) {
			return fail(invalidInput)
		}
	}
	return "", true
}
