package doc

import (
	"context"
	"errors"
	"regexp"
	"strconv"

	"github.com/beevik/etree"
	mapset "github.com/deckarep/golang-set/v2"
	"github.com/emrgen/cdr/internal/doctype"
	"github.com/emrgen/cdr/internal/xmlutil"
)

var generatedFragment = regexp.MustCompile(`^_(\d+)$`)

// fragmentElements returns the elements of the doctype allowed a
// fragment id, or an empty set when the doctype has no schema.
func (d *Doc) fragmentElements(ctx context.Context, dt *doctype.Doctype) (mapset.Set[string], error) {
	set, err := dt.Schema(ctx, d.st)
	if err != nil {
		if errors.Is(err, doctype.ErrNoSchema) {
			return mapset.NewThreadUnsafeSet[string](), nil
		}
		return nil, err
	}
	return set.FragmentElements(), nil
}

// highestFragment returns the largest n among the _n fragment ids.
func highestFragment(root *etree.Element) int {
	highest := 0
	xmlutil.Walk(root, func(el *etree.Element) bool {
		if m := generatedFragment.FindStringSubmatch(xmlutil.CdrAttr(el, "id")); m != nil {
			if n, err := strconv.Atoi(m[1]); err == nil && n > highest {
				highest = n
			}
		}
		return true
	})
	return highest
}

// assignFragmentIDs gives each eligible element below the root which has
// no fragment id the next unused _n, and returns how many were assigned.
// Running it again on the result assigns nothing.
func assignFragmentIDs(root *etree.Element, eligible mapset.Set[string]) int {
	next := highestFragment(root)
	assigned := 0
	for _, child := range root.ChildElements() {
		xmlutil.Walk(child, func(el *etree.Element) bool {
			if eligible.Contains(el.Tag) && xmlutil.CdrAttr(el, "id") == "" {
				next++
				xmlutil.SetCdrAttr(el, "id", "_"+strconv.Itoa(next))
				assigned++
			}
			return true
		})
	}
	if assigned > 0 && root.SelectAttr("xmlns:"+xmlutil.Prefix) == nil {
		root.CreateAttr("xmlns:"+xmlutil.Prefix, xmlutil.Namespace)
	}
	return assigned
}
