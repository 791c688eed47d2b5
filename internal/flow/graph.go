// Package flow decodes and runs chatbot flows drawn in the visual builder.
// A flow is a graph of nodes, each holding an ordered list of steps, linked
// by edges. The engine is pure: it takes the graph and the session state and
// returns the messages to send plus the next state, leaving persistence and
// delivery to the caller.
package flow

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// Step types understood by the engine.
const (
	StepText        = "Text"
	StepQuickReply  = "Quick Reply"
	StepList        = "List"
	StepTextInput   = "Text Input"
	StepNumberInput = "Number Input"
	StepEmailInput  = "Email Input"
	StepHandoff     = "Handoff"
)

// WhatsApp interactive limits.
const (
	MaxButtons     = 3
	MaxListOptions = 10
)

// ErrInvalidGraph wraps every structural problem reported by Validate.
var ErrInvalidGraph = errors.New("invalid flow graph")

// Graph is the builder document: {nodes, edges}.
type Graph struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is one box of the builder.
type Node struct {
	ID       string             `json:"id"`
	Type     string             `json:"type,omitempty"`
	Position map[string]float64 `json:"position,omitempty"`
	Data     NodeData           `json:"data"`
}

// NodeData is the payload of a node.
type NodeData struct {
	Label   string `json:"label"`
	IsStart bool   `json:"isStart"`
	Steps   []Step `json:"steps"`
}

// Step is a single action inside a node.
type Step struct {
	Type       string       `json:"type"`
	Content    string       `json:"content"`
	Variable   string       `json:"variable,omitempty"`
	Buttons    []Button     `json:"buttons,omitempty"`
	Options    []ListOption `json:"options,omitempty"`
	ButtonText string       `json:"buttonText,omitempty"`
	Validation *Validation  `json:"validation,omitempty"`
}

// Button is a quick reply button.
type Button struct {
	Label string `json:"label"`
}

// ListOption is a row of a list message.
type ListOption struct {
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Validation constrains an input step. The builder sends numbers either as
// JSON numbers or as strings, so the numeric fields accept both.
type Validation struct {
	MaxRetries   Number `json:"maxRetries,omitempty"`
	ErrorMessage string `json:"errorMessage,omitempty"`
	Regex        string `json:"regex,omitempty"`
	Min          Number `json:"min,omitempty"`
	Max          Number `json:"max,omitempty"`
}

// Number is an optional numeric value decoded from a number or a string.
type Number struct {
	Value float64
	Set   bool
}

// UnmarshalJSON accepts 3, 3.5, "3", "" and null.
func (n *Number) UnmarshalJSON(b []byte) error {
	s := strings.TrimSpace(string(b))
	if s == "null" || s == `""` {
		*n = Number{}
		return nil
	}
	s = strings.Trim(s, `"`)
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return fmt.Errorf("not a number: %s", string(b))
	}
	*n = Number{Value: f, Set: true}
	return nil
}

// MarshalJSON writes the number or null.
func (n Number) MarshalJSON() ([]byte, error) {
	if !n.Set {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(n.Value, 'f', -1, 64)), nil
}

// Edge links two nodes. SourceHandle is "handle-{step}-{option}" for button
// and list branches and empty (or ending in "default") for fall-through.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle"`
}

// Handle returns the source handle of option o of step s.
func Handle(s, o int) string { return fmt.Sprintf("handle-%d-%d", s, o) }

// Parse decodes raw and validates the result.
func Parse(raw []byte) (*Graph, error) {
	var g Graph
	if err := json.Unmarshal(raw, &g); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidGraph, err)
	}
	if err := g.Validate(); err != nil {
		return nil, err
	}
	return &g, nil
}

// Validate checks the structural rules: unique node ids, exactly one start
// node, edges that reference existing nodes, known step types, interactive
// limits and compilable regexes.
func (g *Graph) Validate() error {
	if len(g.Nodes) == 0 {
		return fmt.Errorf("%w: no nodes", ErrInvalidGraph)
	}
	ids := make(map[string]struct{}, len(g.Nodes))
	starts := 0
	for _, n := range g.Nodes {
		if n.ID == "" {
			return fmt.Errorf("%w: node without id", ErrInvalidGraph)
		}
		if _, dup := ids[n.ID]; dup {
			return fmt.Errorf("%w: duplicate node %q", ErrInvalidGraph, n.ID)
		}
		ids[n.ID] = struct{}{}
		if n.Data.IsStart {
			starts++
		}
		for i, s := range n.Data.Steps {
			if err := s.check(); err != nil {
				return fmt.Errorf("%w: node %q step %d: %v", ErrInvalidGraph, n.ID, i, err)
			}
		}
	}
	if starts != 1 {
		return fmt.Errorf("%w: want exactly one start node, got %d", ErrInvalidGraph, starts)
	}
	for _, e := range g.Edges {
		if _, ok := ids[e.Source]; !ok {
			return fmt.Errorf("%w: edge %q has unknown source %q", ErrInvalidGraph, e.ID, e.Source)
		}
		if _, ok := ids[e.Target]; !ok {
			return fmt.Errorf("%w: edge %q has unknown target %q", ErrInvalidGraph, e.ID, e.Target)
		}
	}
	return nil
}

func (s Step) check() error {
	switch s.Type {
	case StepText, StepHandoff, StepTextInput, StepNumberInput, StepEmailInput:
	case StepQuickReply:
		if len(s.Buttons) == 0 || len(s.Buttons) > MaxButtons {
			return fmt.Errorf("quick reply needs 1 to %d buttons", MaxButtons)
		}
	case StepList:
		if len(s.Options) == 0 || len(s.Options) > MaxListOptions {
			return fmt.Errorf("list needs 1 to %d options", MaxListOptions)
		}
	default:
		return fmt.Errorf("unknown step type %q", s.Type)
	}
	if s.Validation != nil && s.Validation.Regex != "" {
		if _, err := regexp.Compile(s.Validation.Regex); err != nil {
			return fmt.Errorf("bad regex: %v", err)
		}
	}
	return nil
}

// Start returns the start node, or nil for an unvalidated graph without one.
func (g *Graph) Start() *Node {
	for i := range g.Nodes {
		if g.Nodes[i].Data.IsStart {
			return &g.Nodes[i]
		}
	}
	return nil
}

// Node returns the node with id, or nil.
func (g *Graph) Node(id string) *Node {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// last returns the final step of n, if any.
func (n *Node) last() (Step, bool) {
	if len(n.Data.Steps) == 0 {
		return Step{}, false
	}
	return n.Data.Steps[len(n.Data.Steps)-1], true
}

func isInput(t string) bool {
	return t == StepTextInput || t == StepNumberInput || t == StepEmailInput
}

// waits reports whether the node stops for a reply after its steps ran.
func (n *Node) waits() bool {
	s, ok := n.last()
	return ok && (isInput(s.Type) || s.Type == StepQuickReply || s.Type == StepList)
}

func (n *Node) interactive() bool {
	for _, s := range n.Data.Steps {
		if s.Type == StepQuickReply || s.Type == StepList {
			return true
		}
	}
	return false
}

// next resolves the outgoing edge for reply. Button and list replies match
// either their handle id (interactive reply ids) or their title.
func (g *Graph) next(n *Node, reply Input) string {
	if n.interactive() {
		if h := matchHandle(n, reply); h != "" {
			for _, e := range g.Edges {
				if e.Source == n.ID && e.SourceHandle == h {
					return e.Target
				}
			}
		}
	}
	for _, e := range g.Edges {
		if e.Source != n.ID {
			continue
		}
		if !n.interactive() || e.SourceHandle == "" || strings.HasSuffix(e.SourceHandle, "default") {
			return e.Target
		}
	}
	return ""
}

func matchHandle(n *Node, reply Input) string {
	if reply.ReplyID == "" && strings.TrimSpace(reply.Text) == "" {
		return ""
	}
	for si, s := range n.Data.Steps {
		switch s.Type {
		case StepQuickReply:
			for bi, b := range s.Buttons {
				h := Handle(si, bi)
				if reply.ReplyID == h || strings.EqualFold(strings.TrimSpace(reply.Text), b.Label) {
					return h
				}
			}
		case StepList:
			for oi, o := range s.Options {
				h := Handle(si, oi)
				if reply.ReplyID == h || strings.EqualFold(strings.TrimSpace(reply.Text), o.Title) {
					return h
				}
			}
		}
	}
	return ""
}
