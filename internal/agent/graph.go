// Package agent runs the bedtime story graph: a collector that talks with the
// child, a tool handler for preference updates, and a writer/critic loop that
// ends in the presenter.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/amma-stories/amma/internal/domain"
)

// Node names a graph state.
type Node string

const (
	NodeCollector       Node = "collector"
	NodeToolHandler     Node = "tool_handler"
	NodeWriter          Node = "writer"
	NodeCritic          Node = "critic"
	NodePresenter       Node = "presenter"
	NodeRevisionHandler Node = "revision_handler"
	NodeEnd             Node = "end"
)

// DefaultMaxSteps bounds node executions per turn.
const DefaultMaxSteps = 25

// ErrStepLimit is returned when a turn does not reach the end node within the
// step limit.
var ErrStepLimit = errors.New("graph step limit exceeded")

// NodeError reports which node failed.
type NodeError struct {
	Node Node
	Err  error
}

func (e *NodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Node, e.Err)
}

func (e *NodeError) Unwrap() error { return e.Err }

// Step describes one executed node.
type Step struct {
	Index  int
	Node   Node
	Route  Route
	Patch  domain.Patch
	Result domain.ConversationState
}

// Observer is called after every executed node.
type Observer func(ctx context.Context, step Step)

// Presented describes a story delivered by the presenter during a turn.
type Presented struct {
	Story         string
	RevisionCount int
}

// Result is the outcome of one turn through the graph.
type Result struct {
	State     domain.ConversationState
	Path      []Node
	Presented []Presented
}

// Runner runs one turn. Graph is the production implementation.
type Runner interface {
	Run(ctx context.Context, state domain.ConversationState) (Result, error)
}

var _ Runner = (*Graph)(nil)

type roleFunc func(ctx context.Context, s domain.ConversationState, ec ExecContext) (domain.Patch, error)

// Graph wires the role executors into the story state machine.
type Graph struct {
	nodes    map[Node]roleFunc
	maxSteps int
	observer Observer
	logger   *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithMaxSteps overrides DefaultMaxSteps. Values below 2 are ignored.
func WithMaxSteps(n int) Option {
	return func(g *Graph) {
		if n >= 2 {
			g.maxSteps = n
		}
	}
}

// WithObserver installs a step observer.
func WithObserver(o Observer) Option {
	return func(g *Graph) { g.observer = o }
}

// WithLogger sets the graph logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) {
		if l != nil {
			g.logger = l
		}
	}
}

// NewGraph builds the graph around roles.
func NewGraph(roles *Roles, opts ...Option) *Graph {
	g := &Graph{
		nodes: map[Node]roleFunc{
			NodeCollector:       roles.Collector,
			NodeToolHandler:     roles.ToolHandler,
			NodeWriter:          roles.Writer,
			NodeCritic:          roles.Critic,
			NodePresenter:       roles.Presenter,
			NodeRevisionHandler: roles.RevisionHandler,
		},
		maxSteps: DefaultMaxSteps,
		logger:   slog.Default(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Run executes nodes from the collector until the end node. On failure the
// returned Result holds the state as of the last applied update.
func (g *Graph) Run(ctx context.Context, state domain.ConversationState) (Result, error) {
	res := Result{State: state.Clone()}
	node := NodeCollector

	for step := 0; node != NodeEnd; step++ {
		if step >= g.maxSteps {
			return res, fmt.Errorf("%w (%d steps)", ErrStepLimit, g.maxSteps)
		}
		if err := ctx.Err(); err != nil {
			return res, &NodeError{Node: node, Err: err}
		}

		role, ok := g.nodes[node]
		if !ok {
			return res, &NodeError{Node: node, Err: errors.New("no executor registered")}
		}

		before := res.State
		patch, err := role(ctx, before, ExecContext{Step: step, LastStep: step == g.maxSteps-1})
		res.Path = append(res.Path, node)
		if err != nil {
			g.logger.Warn("Graph node failed", "node", node, "step", step, "error", err)
			return res, &NodeError{Node: node, Err: err}
		}

		res.State = before.Apply(patch)
		if node == NodePresenter {
			res.Presented = append(res.Presented, Presented{
				Story:         before.CurrentStory,
				RevisionCount: before.RevisionCount,
			})
		}

		route := next(node, res.State)
		g.logger.Debug("Graph route", "node", node, "next", route.Next, "reason", route.Reason, "step", step)
		if g.observer != nil {
			g.observer(ctx, Step{Index: step, Node: node, Route: route, Patch: patch, Result: res.State})
		}
		node = route.Next
	}
	return res, nil
}

// ReplyText returns the content of the final transcript entry when it is a
// non-empty assistant message.
func ReplyText(s domain.ConversationState) (string, bool) {
	last, ok := s.LastMessage()
	if !ok || last.Role != domain.RoleAssistant || last.Content == "" {
		return "", false
	}
	return last.Content, true
}
