// Package definition mounts scope trees declared in YAML. Formulas and action
// bodies are expressions run by the tree's evaluators.
package definition

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	stores "github.com/goliatone/go-stores"
)

var (
	// ErrInvalidDefinition indicates a document that cannot describe a scope tree.
	ErrInvalidDefinition = errors.New("definition: invalid definition")
	// ErrUnsupportedEngine indicates an engine name without an evaluator in this build.
	ErrUnsupportedEngine = errors.New("definition: unsupported engine")
)

// Engines understood by the engine field. Children inherit their parent's
// engine when they do not set one.
const (
	EngineExpr = "expr"
	EngineCEL  = "cel"
	EngineJS   = "js"
)

// Node declares one scope and its children.
type Node struct {
	Tag       string                `yaml:"tag"`
	Engine    string                `yaml:"engine,omitempty"`
	Data      map[string]any        `yaml:"data,omitempty"`
	State     map[string]any        `yaml:"state,omitempty"`
	Formulas  map[string]string     `yaml:"formulas,omitempty"`
	Protected map[string]string     `yaml:"protected,omitempty"`
	Actions   map[string]ActionSpec `yaml:"actions,omitempty"`
	Children  []Node                `yaml:"children,omitempty"`
}

// ActionSpec is an action written as expressions. Set maps keys to the
// expressions whose results are written; Result is evaluated after the
// writes and settles the dispatch. Expressions see args.value, args.key and
// args.payload.
type ActionSpec struct {
	Set    map[string]string `yaml:"set,omitempty"`
	Result string            `yaml:"result,omitempty"`
}

// Mounted maps slash-separated tag paths, such as "app/page", to scopes.
type Mounted map[string]*stores.Scope

// Paths returns the mounted paths in order.
func (m Mounted) Paths() []string {
	paths := make([]string, 0, len(m))
	for path := range m {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	return paths
}

// Parse decodes and validates a YAML document.
func Parse(data []byte) (*Node, error) {
	var node Node
	if err := yaml.Unmarshal(data, &node); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDefinition, err)
	}
	if err := node.Validate(); err != nil {
		return nil, err
	}
	return &node, nil
}

// Load reads and parses the YAML file at path.
func Load(path string) (*Node, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("definition: read %s: %w", path, err)
	}
	return Parse(data)
}

// Validate checks tags, engines and references between protected keys,
// actions and state.
func (n *Node) Validate() error {
	return n.validate("", true)
}

func (n *Node) validate(parentPath string, root bool) error {
	path := joinPath(parentPath, n.Tag)
	if !root && n.Tag == "" {
		return fmt.Errorf("%w: child of %q has no tag", ErrInvalidDefinition, parentPath)
	}
	if strings.Contains(n.Tag, "/") {
		return fmt.Errorf("%w: tag %q must not contain '/'", ErrInvalidDefinition, n.Tag)
	}
	switch n.Engine {
	case "", EngineExpr, EngineCEL, EngineJS:
	default:
		return fmt.Errorf("%w: %q at %q", ErrUnsupportedEngine, n.Engine, path)
	}
	for key, action := range n.Protected {
		if _, ok := n.State[key]; !ok {
			return fmt.Errorf("%w: protected key %q at %q is not in state", ErrInvalidDefinition, key, path)
		}
		if _, ok := n.Actions[action]; !ok {
			return fmt.Errorf("%w: protected key %q at %q names unknown action %q", ErrInvalidDefinition, key, path, action)
		}
	}
	for name, action := range n.Actions {
		if len(action.Set) == 0 && strings.TrimSpace(action.Result) == "" {
			return fmt.Errorf("%w: action %q at %q has no body", ErrInvalidDefinition, name, path)
		}
	}
	seen := map[string]bool{}
	for i := range n.Children {
		child := &n.Children[i]
		if seen[child.Tag] {
			return fmt.Errorf("%w: duplicate child %q under %q", ErrInvalidDefinition, child.Tag, path)
		}
		seen[child.Tag] = true
		if err := child.validate(path, false); err != nil {
			return err
		}
	}
	return nil
}

// Mount mounts the node and its children under parent. When a descendant
// fails to mount, everything mounted so far is unmounted again.
func (n *Node) Mount(ctx context.Context, tree *stores.Tree, parent *stores.Scope) (Mounted, error) {
	if tree == nil {
		return nil, fmt.Errorf("%w: tree is required", ErrInvalidDefinition)
	}
	if err := n.Validate(); err != nil {
		return nil, err
	}
	parentPath := ""
	engine := EngineExpr
	if parent != nil {
		parentPath = parent.Tag()
	}
	mounted := Mounted{}
	top, err := n.mount(ctx, tree, parent, parentPath, engine, mounted)
	if err != nil {
		if top != nil {
			_ = top.Unmount(ctx)
		}
		return nil, err
	}
	return mounted, nil
}

func (n *Node) mount(ctx context.Context, tree *stores.Tree, parent *stores.Scope, parentPath, engine string, mounted Mounted) (*stores.Scope, error) {
	if n.Engine != "" {
		engine = n.Engine
	}
	def, err := n.definition(tree, engine)
	if err != nil {
		return nil, err
	}
	scope, err := tree.Mount(ctx, parent, def)
	if err != nil {
		return nil, err
	}
	path := joinPath(parentPath, scope.Tag())
	if parent == nil {
		path = scope.Tag()
	}
	mounted[path] = scope
	for i := range n.Children {
		if _, err := n.Children[i].mount(ctx, tree, scope, path, engine, mounted); err != nil {
			return scope, err
		}
	}
	return scope, nil
}

// Definition converts the node, without its children, to a scope definition
// evaluated by engine.
func (n *Node) Definition(tree *stores.Tree, engine string) (stores.Definition, error) {
	if engine == "" {
		engine = EngineExpr
	}
	return n.definition(tree, engine)
}

func (n *Node) definition(tree *stores.Tree, engine string) (stores.Definition, error) {
	evaluator, err := evaluatorFor(tree, engine)
	if err != nil {
		return stores.Definition{}, err
	}
	def := stores.Definition{
		Tag:   n.Tag,
		Data:  entries(n.Data),
		State: entries(n.State),
	}
	if len(n.Formulas) > 0 {
		def.Formulas = make(map[any]stores.Formula, len(n.Formulas))
		for key, expr := range n.Formulas {
			def.Formulas[key] = stores.ExpressionFormula(evaluator, expr)
		}
	}
	if len(n.Protected) > 0 {
		def.Protected = make(map[any]string, len(n.Protected))
		for key, action := range n.Protected {
			def.Protected[key] = action
		}
	}
	if len(n.Actions) > 0 {
		def.Actions = make(map[string]stores.Action, len(n.Actions))
		for name, spec := range n.Actions {
			def.Actions[name] = spec.action(tree, evaluator)
		}
	}
	return def, nil
}

func (spec ActionSpec) action(tree *stores.Tree, evaluator stores.Evaluator) stores.Action {
	keys := make([]string, 0, len(spec.Set))
	for key := range spec.Set {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	return func(ctx context.Context, h *stores.Handle, payload ...any) (any, error) {
		args := arguments(payload)
		if len(keys) > 0 {
			rule, err := ruleContext(h, args)
			if err != nil {
				return nil, err
			}
			values := make(map[string]any, len(keys))
			for _, key := range keys {
				value, err := tree.Evaluate(evaluator, rule, spec.Set[key])
				if err != nil {
					return nil, fmt.Errorf("set %s: %w", key, err)
				}
				values[key] = value
			}
			if err := h.SetMany(ctx, values); err != nil {
				return nil, err
			}
		}
		if strings.TrimSpace(spec.Result) == "" {
			return nil, nil
		}
		rule, err := ruleContext(h, args)
		if err != nil {
			return nil, err
		}
		return tree.Evaluate(evaluator, rule, spec.Result)
	}
}

func arguments(payload []any) map[string]any {
	args := map[string]any{"payload": payload}
	if len(payload) > 0 {
		args["value"] = payload[0]
	}
	if len(payload) > 1 {
		args["key"] = payload[1]
	}
	return args
}

// ruleContext reads the string keys visible from the handle. Every value is
// read before any write of the action lands.
func ruleContext(h *stores.Handle, args map[string]any) (stores.RuleContext, error) {
	ctx, err := stores.NewRuleContext(h)
	if err != nil {
		return stores.RuleContext{}, err
	}
	ctx.Args = args
	return ctx, nil
}

func evaluatorFor(tree *stores.Tree, engine string) (stores.Evaluator, error) {
	switch engine {
	case "", EngineExpr:
		return nil, nil
	case EngineCEL:
		return stores.NewCELEvaluator(
			stores.CELWithProgramCache(tree.ProgramCache()),
			stores.CELWithFunctionRegistry(tree.Functions()),
		), nil
	case EngineJS:
		evaluator := stores.NewJSEvaluator(
			stores.JSWithProgramCache(tree.ProgramCache()),
			stores.JSWithFunctionRegistry(tree.Functions()),
		)
		if evaluator != nil {
			return evaluator, nil
		}
		return nil, fmt.Errorf("%w: %q needs the js_eval build tag", ErrUnsupportedEngine, engine)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedEngine, engine)
	}
}

func entries(src map[string]any) stores.Entries {
	if len(src) == 0 {
		return nil
	}
	out := make(stores.Entries, len(src))
	for key, value := range src {
		out[key] = value
	}
	return out
}

func joinPath(parent, tag string) string {
	if parent == "" {
		return tag
	}
	return parent + "/" + tag
}
