package filter

import (
	"context"
	"fmt"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/xslt"
)

// Request names the filters to apply. Inline XSLT excludes Specs.
type Request struct {
	Specs  []string
	Inline string
	// Version selects the filter versions: empty for the working copies,
	// "last", "lastp" or a number.
	Version string
	Params  map[string]string
}

// Subject is the document being filtered.
type Subject struct {
	ID  uint
	Doc *etree.Document
}

// Result is the output of the last filter plus the messages of all of them.
type Result struct {
	Doc      *etree.Document
	Messages []xslt.Message
}

// Apply runs the requested filters in order, feeding each filter the
// output of the one before it. The subject document is not modified.
func (l *Library) Apply(ctx context.Context, engine xslt.Engine, subject Subject, req Request) (*Result, error) {
	var filters []*Filter
	switch {
	case req.Inline != "" && len(req.Specs) > 0:
		return nil, fmt.Errorf("%w: inline filter combined with named filters", ErrBadSpec)
	case req.Inline != "":
		filters = []*Filter{{Title: "inline filter", XML: req.Inline}}
	case len(req.Specs) == 0:
		return nil, fmt.Errorf("%w: no filters", ErrBadSpec)
	default:
		var err error
		filters, err = l.Resolve(ctx, req.Specs, req.Version)
		if err != nil {
			return nil, err
		}
	}

	r := &Resolver{lib: l, subject: subject}
	res := &Result{Doc: subject.Doc.Copy()}
	for _, f := range filters {
		sheet, err := engine.Compile(ctx, f.XML, r)
		if err != nil {
			return res, fmt.Errorf("compiling %s: %w", describe(f), err)
		}
		out, msgs, err := sheet.Transform(ctx, res.Doc, req.Params, r)
		res.Messages = append(res.Messages, msgs...)
		if err != nil {
			return res, fmt.Errorf("applying %s: %w", describe(f), err)
		}
		res.Doc = out
	}
	return res, nil
}

func describe(f *Filter) string {
	if f.ID == 0 {
		return f.Title
	}
	if f.Title == "" {
		return cdrid.Format(f.ID)
	}
	return fmt.Sprintf("%s (%s)", f.Title, cdrid.Format(f.ID))
}
