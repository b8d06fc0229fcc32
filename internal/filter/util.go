package filter

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"

	"github.com/beevik/etree"
	"github.com/emrgen/cdr/internal/cdrid"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	ErrUnknownFunction = errors.New("unknown cdrutil function")
	ErrObsolete        = errors.New("obsolete cdrutil function")
	ErrForbiddenSQL    = errors.New("query may only read")
)

// UtilFunc is a function reachable from filters as cdrutil:/NAME/ARG....
type UtilFunc func(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error)

var utilFuncs = map[string]UtilFunc{
	"ts":              utilTimestamp,
	"dedup-ids":       utilDedupIDs,
	"docid":           utilDocID,
	"denormalizeTerm": utilDenormalizeTerm,
	"sql-query":       utilSQLQuery,
	"get-pv-num":      utilPubVersion,
	"valid-zip":       utilValidZip,
}

var obsoleteFuncs = map[string]bool{
	"extern-map":       true,
	"get-lookup-value": true,
	"pretty-url":       true,
}

func (l *Library) callUtil(ctx context.Context, r *Resolver, name string, args []string) (*etree.Document, error) {
	if obsoleteFuncs[name] {
		return nil, fmt.Errorf("%w: %s", ErrObsolete, name)
	}
	fn, ok := utilFuncs[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, name)
	}
	return fn(ctx, l, r, args)
}

func single(tag, text string) *etree.Document {
	doc := etree.NewDocument()
	el := doc.CreateElement(tag)
	if text != "" {
		el.SetText(text)
	}
	return doc
}

func utilTimestamp(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	return single("TimeWithMilliseconds", l.now().Format("2006-01-02T15:04:05.000")), nil
}

// dedupKey folds case, strips accents and drops punctuation and spacing.
func dedupKey(s string) string {
	folded := norm.NFKD.String(cases.Fold().String(s))
	var sb strings.Builder
	for _, r := range folded {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// utilDedupIDs returns the alternate ids (second argument, "~" separated)
// whose keys match neither a primary id (first argument) nor an earlier
// alternate.
func utilDedupIDs(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("dedup-ids: expected primary and alternate lists")
	}
	seen := make(map[string]bool)
	for _, id := range strings.Split(args[0], "~") {
		seen[dedupKey(id)] = true
	}
	doc := etree.NewDocument()
	out := doc.CreateElement("result")
	for _, id := range strings.Split(args[1], "~") {
		key := dedupKey(id)
		if key == "" || seen[key] {
			continue
		}
		seen[key] = true
		out.CreateElement("id").SetText(strings.TrimSpace(id))
	}
	return doc, nil
}

func utilDocID(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if r.subject.ID == 0 {
		return single("DocId", ""), nil
	}
	return single("DocId", cdrid.Format(r.subject.ID)), nil
}

// utilDenormalizeTerm expands a Term document; a second argument of
// "Upcode" includes the ancestor terms.
func utilDenormalizeTerm(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("denormalizeTerm: missing document id")
	}
	id, err := cdrid.Parse(args[0])
	if err != nil {
		return nil, err
	}
	upcode := len(args) > 1 && strings.EqualFold(args[1], "upcode")
	term, err := l.DenormalizeTerm(ctx, id, upcode)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	doc.SetRoot(term)
	return doc, nil
}

var (
	writeKeywords = regexp.MustCompile(`(?i)\b(INSERT|UPDATE|DELETE|CREATE|ALTER|DROP|EXEC|EXECUTE|PRAGMA|ATTACH|DETACH|TRUNCATE|GRANT|REVOKE|VACUUM|REPLACE\s+INTO)\b`)
	readPrefix    = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
)

// checkQuery accepts a single SELECT (or WITH ... SELECT) statement and
// returns it without the optional trailing semicolon.
func checkQuery(query string) (string, error) {
	q := strings.TrimSpace(query)
	q = strings.TrimSpace(strings.TrimSuffix(q, ";"))
	switch {
	case strings.Contains(q, ";"):
		return "", fmt.Errorf("%w: more than one statement: %s", ErrForbiddenSQL, query)
	case !readPrefix.MatchString(q), writeKeywords.MatchString(q):
		return "", fmt.Errorf("%w: %s", ErrForbiddenSQL, query)
	}
	return q, nil
}

// utilSQLQuery runs a read-only query; remaining arguments bind its
// placeholders.
func utilSQLQuery(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if len(args) == 0 || strings.TrimSpace(args[0]) == "" {
		return nil, fmt.Errorf("sql-query: missing query")
	}
	query, err := checkQuery(args[0])
	if err != nil {
		return nil, err
	}
	params := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		params = append(params, a)
	}

	cols, rows, err := l.st.RawQuery(ctx, query, params...)
	if err != nil {
		return nil, err
	}
	doc := etree.NewDocument()
	result := doc.CreateElement("SqlResult")
	for i, row := range rows {
		rowEl := result.CreateElement("row")
		rowEl.CreateAttr("i", strconv.Itoa(i))
		for j, v := range row {
			col := rowEl.CreateElement("col")
			col.CreateAttr("name", cols[j])
			col.SetText(v)
		}
	}
	return doc, nil
}

// utilPubVersion reports the latest publishable version number, 0 for none.
func utilPubVersion(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if len(args) == 0 {
		return nil, fmt.Errorf("get-pv-num: missing document id")
	}
	id, err := cdrid.Parse(args[0])
	if err != nil {
		return nil, err
	}
	n, err := l.st.LastVersion(ctx, id, true)
	if err != nil {
		return nil, err
	}
	return single("PubVerNumber", strconv.Itoa(n)), nil
}

// utilValidZip returns the five digit code when it is known, and an empty
// element otherwise.
func utilValidZip(ctx context.Context, l *Library, r *Resolver, args []string) (*etree.Document, error) {
	if len(args) == 0 {
		return single("ValidZip", ""), nil
	}
	zip := strings.TrimSpace(args[0])
	if len(zip) > 5 {
		zip = zip[:5]
	}
	if len(zip) != 5 || strings.Trim(zip, "0123456789") != "" {
		return single("ValidZip", ""), nil
	}
	ok, err := l.st.IsValidZip(ctx, zip)
	if err != nil {
		return nil, err
	}
	if !ok {
		return single("ValidZip", ""), nil
	}
	return single("ValidZip", zip), nil
}
