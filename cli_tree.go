package biocore

import (
	"fmt"
	"reflect"
	"sort"
	"strings"
	"unicode"

	"github.com/alecthomas/kong"
	"github.com/goliatone/go-errors"
)

// cliNode is one segment of a nested command path. Leaves carry the handler,
// inner nodes become generated kong command structs.
type cliNode struct {
	name     string
	help     string
	aliases  []string
	hidden   bool
	handler  any
	children map[string]*cliNode
}

func newCLINode(name string) *cliNode {
	return &cliNode{name: name, children: make(map[string]*cliNode)}
}

func (n *cliNode) insert(opts CLIConfig, handler any) error {
	path := opts.fullPath()
	if len(path) == 0 || opts.Name == "" {
		return errors.New("cli command requires a name", errors.CategoryBadInput).
			WithTextCode("CLI_PATH_EMPTY")
	}
	if handler == nil || reflect.TypeOf(handler).Kind() != reflect.Ptr {
		return errors.New("cli handler must be a pointer to a command struct", errors.CategoryBadInput).
			WithTextCode("CLI_HANDLER_INVALID").
			WithMetadata(map[string]any{"path": strings.Join(path, " ")})
	}

	curr := n
	for idx, segment := range path {
		child, ok := curr.children[segment]
		if !ok {
			child = newCLINode(segment)
			curr.children[segment] = child
		}
		if idx < len(path)-1 {
			if child.handler != nil {
				return errors.New("cli command cannot also be a command group", errors.CategoryConflict).
					WithTextCode("CLI_PATH_CONFLICT").
					WithMetadata(map[string]any{"path": strings.Join(path[:idx+1], " ")})
			}
			if child.help == "" && opts.Group != "" {
				child.help = opts.Group
			}
			curr = child
			continue
		}
		if child.handler != nil || len(child.children) > 0 {
			return errors.New("cli command already registered for path", errors.CategoryConflict).
				WithTextCode("CLI_PATH_CONFLICT").
				WithMetadata(map[string]any{"path": strings.Join(path, " ")})
		}
		child.handler = handler
		child.help = opts.Description
		child.aliases = opts.Aliases
		child.hidden = opts.Hidden
	}
	return nil
}

func (opts CLIConfig) fullPath() []string {
	path := make([]string, 0, len(opts.Path)+1)
	for _, p := range opts.Path {
		if p = strings.TrimSpace(p); p != "" {
			path = append(path, p)
		}
	}
	if opts.Name != "" {
		path = append(path, opts.Name)
	}
	return path
}

// options embeds the tree as one generated struct. An empty tree yields no
// options.
func (n *cliNode) options() ([]kong.Option, error) {
	if len(n.children) == 0 {
		return nil, nil
	}
	model, err := structFor(n)
	if err != nil {
		return nil, err
	}
	return []kong.Option{kong.Embed(model.Addr().Interface())}, nil
}

func structFor(node *cliNode) (reflect.Value, error) {
	names := make([]string, 0, len(node.children))
	for name := range node.children {
		names = append(names, name)
	}
	sort.Strings(names)

	fields := make([]reflect.StructField, 0, len(names))
	values := make([]reflect.Value, 0, len(names))
	used := make(map[string]struct{}, len(names))

	for _, name := range names {
		child := node.children[name]
		field := fieldName(name)
		if _, dup := used[field]; dup {
			return reflect.Value{}, fmt.Errorf("cli commands %q collide as field %s", name, field)
		}
		used[field] = struct{}{}

		var val reflect.Value
		if len(child.children) == 0 {
			val = reflect.ValueOf(child.handler)
		} else {
			v, err := structFor(child)
			if err != nil {
				return reflect.Value{}, err
			}
			val = v
		}
		fields = append(fields, reflect.StructField{Name: field, Type: val.Type(), Tag: child.tag()})
		values = append(values, val)
	}

	out := reflect.New(reflect.StructOf(fields)).Elem()
	for i, v := range values {
		out.Field(i).Set(v)
	}
	return out, nil
}

func (n *cliNode) tag() reflect.StructTag {
	tags := []string{fmt.Sprintf(`name:"%s"`, escapeTag(n.name)), `cmd:""`}
	if n.help != "" {
		tags = append(tags, fmt.Sprintf(`help:"%s"`, escapeTag(n.help)))
	}
	if len(n.aliases) > 0 {
		tags = append(tags, fmt.Sprintf(`aliases:"%s"`, escapeTag(strings.Join(n.aliases, ","))))
	}
	if n.hidden {
		tags = append(tags, `hidden:""`)
	}
	return reflect.StructTag(strings.Join(tags, " "))
}

// fieldName turns "sweep-overdue" into "SweepOverdue".
func fieldName(name string) string {
	var b strings.Builder
	for _, part := range strings.FieldsFunc(name, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		runes := []rune(part)
		runes[0] = unicode.ToUpper(runes[0])
		b.WriteString(string(runes))
	}
	out := b.String()
	if out == "" || !unicode.IsLetter([]rune(out)[0]) {
		out = "Cmd" + out
	}
	return out
}

func escapeTag(val string) string {
	val = strings.ReplaceAll(val, `\`, `\\`)
	return strings.ReplaceAll(val, `"`, `\"`)
}
