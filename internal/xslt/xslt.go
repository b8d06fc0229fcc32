// Package xslt defines the contract of the XSLT engine used for filtering.
// The engine itself is an external collaborator; FuncEngine binds
// stylesheets to Go transforms.
package xslt

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/beevik/etree"
)

var (
	ErrUnknownStylesheet = errors.New("no transform bound to stylesheet")
	ErrTerminated        = errors.New("transform terminated")
)

// Message is one entry of the post-transform diagnostic log.
type Message struct {
	Text string
	Line int
	// Terminate is set by xsl:message terminate="yes".
	Terminate bool
}

// Resolver answers document() and xsl:include lookups made by a running
// transform.
type Resolver interface {
	Resolve(ctx context.Context, uri string) (*etree.Document, error)
}

// Stylesheet is a compiled transform.
type Stylesheet interface {
	// Transform applies the stylesheet to doc. Parameters are passed as
	// literal string parameters.
	Transform(ctx context.Context, doc *etree.Document, params map[string]string, r Resolver) (*etree.Document, []Message, error)
}

// Engine compiles stylesheets.
type Engine interface {
	Compile(ctx context.Context, xslt string, r Resolver) (Stylesheet, error)
}

// TransformFunc implements a stylesheet in Go.
type TransformFunc func(ctx context.Context, doc *etree.Document, params map[string]string, r Resolver) (*etree.Document, []Message, error)

var _ Engine = (*FuncEngine)(nil)

// FuncEngine compiles a stylesheet by looking up the Go function registered
// under the id attribute of its root element.
type FuncEngine struct {
	mu        sync.RWMutex
	funcs     map[string]TransformFunc
	compilers map[string]Compiler
}

// Compiler builds a transform from the stylesheet source itself, for
// stylesheets whose content rather than id decides what they do.
type Compiler func(sheet *etree.Element) (TransformFunc, error)

func NewFuncEngine() *FuncEngine {
	return &FuncEngine{
		funcs:     make(map[string]TransformFunc),
		compilers: make(map[string]Compiler),
	}
}

// Register binds a stylesheet id to a transform.
func (e *FuncEngine) Register(id string, fn TransformFunc) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.funcs[id] = fn
}

// RegisterCompiler binds every stylesheet whose id starts with prefix to a
// compiler. Exact ids registered with Register win.
func (e *FuncEngine) RegisterCompiler(prefix string, c Compiler) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.compilers[prefix] = c
}

func (e *FuncEngine) lookup(root *etree.Element) (TransformFunc, error) {
	id := root.SelectAttrValue("id", "")
	e.mu.RLock()
	defer e.mu.RUnlock()
	if fn, ok := e.funcs[id]; ok {
		return fn, nil
	}
	best := ""
	for prefix := range e.compilers {
		if strings.HasPrefix(id, prefix) && len(prefix) > len(best) {
			best = prefix
		}
	}
	if best == "" {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStylesheet, id)
	}
	fn, err := e.compilers[best](root)
	if err != nil {
		return nil, fmt.Errorf("compiling %q: %w", id, err)
	}
	return fn, nil
}

func (e *FuncEngine) Compile(ctx context.Context, src string, r Resolver) (Stylesheet, error) {
	doc := etree.NewDocument()
	if err := doc.ReadFromString(src); err != nil {
		return nil, fmt.Errorf("parsing stylesheet: %w", err)
	}
	root := doc.Root()
	if root == nil {
		return nil, fmt.Errorf("parsing stylesheet: empty document")
	}
	if root.Tag != "stylesheet" && root.Tag != "transform" {
		return nil, fmt.Errorf("parsing stylesheet: unexpected root %s", root.FullTag())
	}

	fn, err := e.lookup(root)
	if err != nil {
		return nil, err
	}

	// includes are resolved at compile time, as a real engine would
	for _, inc := range root.ChildElements() {
		if inc.Tag != "include" && inc.Tag != "import" {
			continue
		}
		href := inc.SelectAttrValue("href", "")
		if r == nil {
			return nil, fmt.Errorf("cannot resolve %s without a resolver", href)
		}
		if _, err := r.Resolve(ctx, href); err != nil {
			return nil, fmt.Errorf("resolving %s: %w", href, err)
		}
	}

	return stylesheetFunc(fn), nil
}

type stylesheetFunc TransformFunc

func (f stylesheetFunc) Transform(ctx context.Context, doc *etree.Document, params map[string]string, r Resolver) (*etree.Document, []Message, error) {
	out, msgs, err := f(ctx, doc, params, r)
	if err != nil {
		return nil, msgs, err
	}
	for _, m := range msgs {
		if m.Terminate {
			return nil, msgs, fmt.Errorf("%w: %s", ErrTerminated, m.Text)
		}
	}
	return out, msgs, nil
}

// EscapeURI percent-encodes characters outside the unreserved set, the way
// the escape-uri extension function registered for filters does.
func EscapeURI(s string, escapeReserved bool) string {
	var sb strings.Builder
	for _, b := range []byte(s) {
		switch {
		case b >= 'a' && b <= 'z', b >= 'A' && b <= 'Z', b >= '0' && b <= '9',
			b == '-', b == '_', b == '.', b == '~':
			sb.WriteByte(b)
		case !escapeReserved && strings.IndexByte(";/?:@&=+$,#[]!'()*", b) >= 0:
			sb.WriteByte(b)
		default:
			fmt.Fprintf(&sb, "%%%02X", b)
		}
	}
	return sb.String()
}
