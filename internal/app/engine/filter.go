package engine

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/ast"
	"github.com/expr-lang/expr/parser"
	"github.com/expr-lang/expr/vm"

	"github.com/ghalamif/AegisArchive/internal/domain"
	"github.com/ghalamif/AegisArchive/internal/ports"
)

// FilterOptions tune notification behaviour.
type FilterOptions struct {
	// SuppressUnchanged skips notifications whose result equals the
	// previous one. Off by default: every contributing update notifies.
	SuppressUnchanged bool
}

// Filter evaluates an expression over live source values. Source names are
// plain identifiers or, for names that are not valid identifiers,
// $env["name"] lookups. Variables read NaN until their first update and
// after any error update.
type Filter struct {
	expression string
	program    *vm.Program
	names      []string
	sub        ports.Subscriber
	obs        ports.Observability
	opts       FilterOptions
	listener   func(float64)

	lifecycle sync.Mutex
	handles   []ports.Handle
	started   bool

	mu         sync.Mutex
	generation uint64
	env        map[string]any
	result     float64
	evaluated  bool
}

// NewFilter compiles expression. listener receives every evaluation result
// and is called with the filter's evaluation lock held, so results arrive
// in evaluation order.
func NewFilter(expression string, sub ports.Subscriber, obs ports.Observability, opts FilterOptions, listener func(float64)) (*Filter, error) {
	tree, err := parser.Parse(expression)
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %w", ErrConfiguration, expression, err)
	}
	names := collectNames(tree.Node)

	typed := make(map[string]any, len(names))
	for _, n := range names {
		typed[n] = float64(0)
	}
	program, err := expr.Compile(expression, expr.Env(typed))
	if err != nil {
		return nil, fmt.Errorf("%w: filter %q: %w", ErrConfiguration, expression, err)
	}

	f := &Filter{
		expression: expression,
		program:    program,
		names:      names,
		sub:        sub,
		obs:        obs,
		opts:       opts,
		listener:   listener,
		result:     math.NaN(),
	}
	f.resetEnvLocked()
	return f, nil
}

func (f *Filter) Expression() string { return f.expression }

// Variables returns the distinct source names the expression reads.
func (f *Filter) Variables() []string { return append([]string(nil), f.names...) }

// Result returns the last evaluation result and whether any evaluation ran.
func (f *Filter) Result() (float64, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.result, f.evaluated
}

// Start subscribes to every variable. An expression without variables is
// evaluated once right away.
func (f *Filter) Start(ctx context.Context) error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	if f.started {
		return nil
	}

	f.mu.Lock()
	f.generation++
	gen := f.generation
	f.resetEnvLocked()
	f.mu.Unlock()

	handles := make([]ports.Handle, 0, len(f.names))
	for _, name := range f.names {
		h, err := f.sub.Subscribe(ctx, name, ports.ModeAllUpdates, f.callback(gen, name))
		if err != nil {
			f.mu.Lock()
			f.generation++
			f.mu.Unlock()
			for _, done := range handles {
				_ = f.sub.Unsubscribe(ctx, done)
			}
			return fmt.Errorf("filter %q subscribe %q: %w", f.expression, name, err)
		}
		handles = append(handles, h)
	}
	f.handles = handles
	f.started = true

	if len(f.names) == 0 {
		f.mu.Lock()
		f.evaluateLocked()
		f.mu.Unlock()
	}
	return nil
}

// Stop unsubscribes from every variable. Updates still in flight are dropped.
func (f *Filter) Stop(ctx context.Context) error {
	f.lifecycle.Lock()
	defer f.lifecycle.Unlock()
	if !f.started {
		return nil
	}

	f.mu.Lock()
	f.generation++
	f.mu.Unlock()

	var errs []error
	for _, h := range f.handles {
		if err := f.sub.Unsubscribe(ctx, h); err != nil {
			errs = append(errs, err)
		}
	}
	f.handles = nil
	f.started = false
	return errors.Join(errs...)
}

func (f *Filter) callback(gen uint64, name string) ports.Callback {
	return func(u ports.Update) {
		defer func() {
			if r := recover(); r != nil {
				f.obs.LogCritical("filter_callback_panic", fmt.Errorf("%v", r), ports.Field{Key: "filter", Value: f.expression})
			}
		}()

		f.mu.Lock()
		defer f.mu.Unlock()
		if gen != f.generation {
			return
		}
		f.env[name] = f.variableValue(name, u)
		f.evaluateLocked()
	}
}

func (f *Filter) variableValue(name string, u ports.Update) float64 {
	fields := []ports.Field{{Key: "filter", Value: f.expression}, {Key: "source", Value: name}}
	switch {
	case u.Err != nil:
		f.obs.LogWarn("filter_source_error", u.Err, fields...)
		return math.NaN()
	case !u.Connected:
		f.obs.LogWarn("filter_source_disconnected", errors.New(u.StateInfo), fields...)
		return math.NaN()
	}
	v, ok := domain.ToFloat(u.Value)
	if !ok {
		f.obs.LogWarn("filter_source_not_numeric", fmt.Errorf("%w: %T", domain.ErrUnsupportedValue, u.Value), fields...)
		return math.NaN()
	}
	return v
}

func (f *Filter) evaluateLocked() {
	out, err := vm.Run(f.program, f.env)
	result := math.NaN()
	if err != nil {
		f.obs.LogWarn("filter_evaluation_failed", err, ports.Field{Key: "filter", Value: f.expression})
	} else {
		result = toResult(out)
	}
	f.obs.IncCounter(ports.MetricFilterEvaluations, 1)

	if f.opts.SuppressUnchanged && f.evaluated && sameResult(f.result, result) {
		return
	}
	f.result = result
	f.evaluated = true
	if f.listener != nil {
		f.listener(result)
	}
}

func (f *Filter) resetEnvLocked() {
	f.env = make(map[string]any, len(f.names))
	for _, n := range f.names {
		f.env[n] = math.NaN()
	}
}

func toResult(v any) float64 {
	if b, ok := v.(bool); ok {
		if b {
			return 1
		}
		return 0
	}
	if x, ok := domain.ToFloat(v); ok {
		return x
	}
	return math.NaN()
}

func sameResult(a, b float64) bool {
	if math.IsNaN(a) && math.IsNaN(b) {
		return true
	}
	return a == b
}

type nameCollector struct {
	idents  []*ast.IdentifierNode
	callees map[*ast.IdentifierNode]bool
	env     []string
}

func (c *nameCollector) Visit(node *ast.Node) {
	switch n := (*node).(type) {
	case *ast.IdentifierNode:
		c.idents = append(c.idents, n)
	case *ast.CallNode:
		if id, ok := n.Callee.(*ast.IdentifierNode); ok {
			c.callees[id] = true
		}
	case *ast.MemberNode:
		if id, ok := n.Node.(*ast.IdentifierNode); ok && id.Value == "$env" {
			if key, ok := n.Property.(*ast.StringNode); ok {
				c.env = append(c.env, key.Value)
			}
		}
	}
}

// collectNames returns the distinct source names an expression reads.
func collectNames(root ast.Node) []string {
	c := &nameCollector{callees: make(map[*ast.IdentifierNode]bool)}
	ast.Walk(&root, c)

	seen := make(map[string]bool)
	var names []string
	add := func(n string) {
		if !seen[n] {
			seen[n] = true
			names = append(names, n)
		}
	}
	for _, id := range c.idents {
		if c.callees[id] || id.Value == "$env" {
			continue
		}
		add(id.Value)
	}
	for _, n := range c.env {
		add(n)
	}
	return names
}
