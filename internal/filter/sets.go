package filter

import (
	"context"
	"errors"
	"fmt"

	"github.com/emrgen/cdr/internal/cdrid"
	"github.com/emrgen/cdr/internal/model"
	"github.com/emrgen/cdr/internal/session"
	"github.com/emrgen/cdr/internal/store"
)

// MaxSetDepth bounds filter-set nesting; deeper chains are taken to be
// cycles.
const MaxSetDepth = 100

var (
	ErrSetNotFound = errors.New("filter set not found")
	ErrSetDepth    = errors.New("filter set nesting too deep")
	ErrSetInvalid  = errors.New("invalid filter set")
	ErrSetInUse    = errors.New("filter set in use")
)

// Set is a named, ordered list of filters and nested sets.
type Set struct {
	ID          uint
	Name        string
	Description string
	Notes       string
	Members     []Member
}

// Member names either a filter document or a nested set.
type Member struct {
	Filter uint
	Subset string
}

func (m Member) String() string {
	if m.Subset != "" {
		return setPrefix + m.Subset
	}
	return cdrid.Format(m.Filter)
}

// Expand flattens a named filter set into filter document ids. Assembled
// expansions are cached by name.
func (l *Library) Expand(ctx context.Context, name string) ([]uint, error) {
	if ids, ok := l.sets.Get(name); ok {
		return ids, nil
	}
	set, err := l.st.GetFilterSetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSetNotFound, name)
		}
		return nil, err
	}
	ids, err := l.expand(ctx, set.ID, 0)
	if err != nil {
		return nil, fmt.Errorf("expanding %s: %w", name, err)
	}
	return l.sets.PutIfAbsent(name, ids), nil
}

func (l *Library) expand(ctx context.Context, setID uint, depth int) ([]uint, error) {
	if depth > MaxSetDepth {
		return nil, ErrSetDepth
	}
	members, err := l.st.ListFilterSetMembers(ctx, setID)
	if err != nil {
		return nil, err
	}
	var ids []uint
	for _, m := range members {
		switch {
		case m.Filter != nil:
			ids = append(ids, *m.Filter)
		case m.Subset != nil:
			nested, err := l.expand(ctx, *m.Subset, depth+1)
			if err != nil {
				return nil, err
			}
			ids = append(ids, nested...)
		}
	}
	return ids, nil
}

// GetSet reads a filter set with its direct members.
func (l *Library) GetSet(ctx context.Context, name string) (*Set, error) {
	row, err := l.st.GetFilterSetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrSetNotFound, name)
		}
		return nil, err
	}
	set := &Set{ID: row.ID, Name: row.Name, Description: row.Description, Notes: row.Notes}
	members, err := l.st.ListFilterSetMembers(ctx, row.ID)
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.Filter != nil {
			set.Members = append(set.Members, Member{Filter: *m.Filter})
			continue
		}
		if m.Subset != nil {
			sub, err := l.st.GetFilterSet(ctx, *m.Subset)
			if err != nil {
				return nil, err
			}
			set.Members = append(set.Members, Member{Subset: sub.Name})
		}
	}
	return set, nil
}

// SaveSet adds a filter set, or replaces the one named original when
// original is not empty.
func (l *Library) SaveSet(ctx context.Context, sess *session.Session, def *Set, original string) error {
	action := session.ActionAddFilterSet
	if original != "" {
		action = session.ActionModifyFilterSet
	}
	if err := sess.Require(ctx, action, ""); err != nil {
		return err
	}
	if def.Name == "" {
		return fmt.Errorf("%w: missing name", ErrSetInvalid)
	}
	if def.Description == "" {
		return fmt.Errorf("%w: missing description", ErrSetInvalid)
	}

	row := &model.FilterSet{Name: def.Name, Description: def.Description, Notes: def.Notes}
	if original != "" {
		existing, err := l.st.GetFilterSetByName(ctx, original)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: %s", ErrSetNotFound, original)
			}
			return err
		}
		row.ID = existing.ID
	}
	if other, err := l.st.GetFilterSetByName(ctx, def.Name); err == nil {
		if other.ID != row.ID {
			return fmt.Errorf("%w: name %s already in use", ErrSetInvalid, def.Name)
		}
	} else if !errors.Is(err, store.ErrNotFound) {
		return err
	}

	members := make([]*model.FilterSetMember, 0, len(def.Members))
	for _, m := range def.Members {
		switch {
		case m.Subset != "" && m.Filter != 0:
			return fmt.Errorf("%w: member names both a filter and a set", ErrSetInvalid)
		case m.Subset != "":
			sub, err := l.st.GetFilterSetByName(ctx, m.Subset)
			if err != nil {
				if errors.Is(err, store.ErrNotFound) {
					return fmt.Errorf("%w: %s", ErrSetNotFound, m.Subset)
				}
				return err
			}
			if sub.ID == row.ID && row.ID != 0 {
				return fmt.Errorf("%w: %s includes itself", ErrSetInvalid, def.Name)
			}
			members = append(members, &model.FilterSetMember{Subset: &sub.ID})
		case m.Filter != 0:
			if _, err := l.Fetch(ctx, m.Filter, 0); err != nil {
				return err
			}
			id := m.Filter
			members = append(members, &model.FilterSetMember{Filter: &id})
		default:
			return fmt.Errorf("%w: empty member", ErrSetInvalid)
		}
	}

	if err := l.st.SaveFilterSet(ctx, row, members); err != nil {
		return err
	}
	def.ID = row.ID
	l.sets.Purge()

	sess.Logger().WithField("filterset", def.Name).Info("filter set saved")
	return nil
}

// DeleteSet removes a filter set which no other set includes.
func (l *Library) DeleteSet(ctx context.Context, sess *session.Session, name string) error {
	if err := sess.Require(ctx, session.ActionDeleteFilterSet, ""); err != nil {
		return err
	}
	row, err := l.st.GetFilterSetByName(ctx, name)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("%w: %s", ErrSetNotFound, name)
		}
		return err
	}

	sets, err := l.st.ListFilterSets(ctx)
	if err != nil {
		return err
	}
	for _, other := range sets {
		members, err := l.st.ListFilterSetMembers(ctx, other.ID)
		if err != nil {
			return err
		}
		for _, m := range members {
			if m.Subset != nil && *m.Subset == row.ID {
				return fmt.Errorf("%w: %s is included by %s", ErrSetInUse, name, other.Name)
			}
		}
	}

	if err := l.st.DeleteFilterSet(ctx, row.ID); err != nil {
		return err
	}
	l.sets.Purge()

	sess.Logger().WithField("filterset", name).Info("filter set deleted")
	return nil
}
