package linktype

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/emrgen/cdr/internal/store"
	"gorm.io/gorm/clause"
)

const TargetContains = "LinkTargetContains"

var ErrUnknownProperty = errors.New("property type not supported")

// Property is a custom constraint on link targets beyond the doctype.
type Property interface {
	Type() string
	Value() string
	Comment() string
	// Test checks one resolved target document.
	Test(ctx context.Context, st store.QueryTermStore, table string, docID uint) (bool, error)
	// Conditions selects eligible candidate targets for picklists.
	Conditions(table string) []clause.Expression
}

// PropertyParser builds a property from its stored value.
type PropertyParser func(value, comment string) (Property, error)

var (
	propertyMu    sync.RWMutex
	propertyTypes = map[string]PropertyParser{
		TargetContains: parseTargetContains,
	}
)

// RegisterProperty adds a property type to the registry.
func RegisterProperty(name string, parser PropertyParser) {
	propertyMu.Lock()
	defer propertyMu.Unlock()
	propertyTypes[name] = parser
}

// PropertyTypes lists the registered property type names.
func PropertyTypes() []string {
	propertyMu.RLock()
	defer propertyMu.RUnlock()
	names := make([]string, 0, len(propertyTypes))
	for name := range propertyTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewProperty parses a property of a registered type.
func NewProperty(name, value, comment string) (Property, error) {
	propertyMu.RLock()
	parser, ok := propertyTypes[name]
	propertyMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownProperty, name)
	}
	return parser(value, comment)
}

type targetContains struct {
	value   string
	comment string
	root    Node
}

func parseTargetContains(value, comment string) (Property, error) {
	root, err := ParseExpression(value)
	if err != nil {
		return nil, err
	}
	return &targetContains{value: value, comment: comment, root: root}, nil
}

func (p *targetContains) Type() string    { return TargetContains }
func (p *targetContains) Value() string   { return p.value }
func (p *targetContains) Comment() string { return p.comment }

func (p *targetContains) Test(ctx context.Context, st store.QueryTermStore, table string, docID uint) (bool, error) {
	return p.root.Test(ctx, st, table, docID)
}

func (p *targetContains) Conditions(table string) []clause.Expression {
	return Conditions(p.root, table)
}
