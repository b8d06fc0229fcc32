package doc

import mapset "github.com/deckarep/golang-set/v2"

// Rows to delete must exceed both the threshold and half the wanted set
// before a table is wiped and rebuilt instead of patched.
const (
	linkRebuildThreshold     = 1000
	fragmentRebuildThreshold = 1000
	termRebuildThreshold     = 1000
)

type delta[R any] struct {
	// Rebuild means delete every stored row and insert Add.
	Rebuild bool
	Remove  []R
	Add     []R
}

// diffRows works out how to turn the stored rows into the wanted ones.
// Rows are equal when their keys are; stored duplicates are removed.
func diffRows[K comparable, R any](stored, wanted []R, key func(R) K, threshold int) delta[R] {
	want := mapset.NewThreadUnsafeSet[K]()
	for _, r := range wanted {
		want.Add(key(r))
	}

	var d delta[R]
	kept := mapset.NewThreadUnsafeSet[K]()
	for _, r := range stored {
		k := key(r)
		if want.Contains(k) && kept.Add(k) {
			continue
		}
		d.Remove = append(d.Remove, r)
	}

	added := mapset.NewThreadUnsafeSet[K]()
	var all []R
	for _, r := range wanted {
		k := key(r)
		if !added.Add(k) {
			continue
		}
		all = append(all, r)
		if !kept.Contains(k) {
			d.Add = append(d.Add, r)
		}
	}

	if len(d.Remove) > threshold && len(d.Remove) > len(all)/2 {
		d.Rebuild = true
		d.Add = all
	}
	return d
}
