// Package index contains the default [domain.Index] implementation, a binary
// search tree keyed by the indexed values of each document.
package index

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/vinicius-lino-figueiredo/bst"
	"github.com/vinicius-lino-figueiredo/bst/adapter/unbalanced"
	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/comparer"
	"github.com/vinicius-lino-figueiredo/gedm/internal/adapter/fieldnavigator"
)

// Index implements [domain.Index].
type Index struct {
	fields []string
	addrs  [][]string
	unique bool
	sparse bool
	tree   bst.BST[any, domain.Document]
	cmpr   domain.Comparer
	fn     domain.FieldNavigator
}

// treeComparer orders tree keys with the document comparer. Documents are
// told apart by identity.
type treeComparer struct {
	cmpr domain.Comparer
}

// CompareKeys implements [bst.Comparer].
func (c treeComparer) CompareKeys(a, b any) (int, error) {
	return c.cmpr.Compare(a, b), nil
}

// CompareValues implements [bst.Comparer].
func (c treeComparer) CompareValues(a, b domain.Document) (bool, error) {
	return a == b, nil
}

// NewIndex returns a new implementation of [domain.Index].
func NewIndex(options ...domain.IndexOption) (domain.Index, error) {
	var opts domain.IndexOptions
	for _, option := range options {
		option(&opts)
	}
	if len(opts.Fields) == 0 {
		return nil, errors.New("index needs at least one field")
	}
	if opts.Comparer == nil {
		opts.Comparer = comparer.NewComparer()
	}
	if opts.FieldNavigator == nil {
		opts.FieldNavigator = fieldnavigator.NewFieldNavigator()
	}

	addrs := make([][]string, len(opts.Fields))
	for n, field := range opts.Fields {
		if field == "" {
			return nil, errors.New("index field cannot be empty")
		}
		addrs[n] = opts.FieldNavigator.GetAddress(field)
	}

	i := &Index{
		fields: slices.Clone(opts.Fields),
		addrs:  addrs,
		unique: opts.Unique,
		sparse: opts.Sparse,
		cmpr:   opts.Comparer,
		fn:     opts.FieldNavigator,
	}
	i.tree = i.newTree()
	return i, nil
}

func (i *Index) newTree() bst.BST[any, domain.Document] {
	return unbalanced.NewBST[any, domain.Document](i.unique, 0, treeComparer{cmpr: i.cmpr})
}

// Fields implements [domain.Index].
func (i *Index) Fields() []string {
	return slices.Clone(i.fields)
}

// Unique implements [domain.Index].
func (i *Index) Unique() bool {
	return i.unique
}

// GetNumberOfKeys implements [domain.Index].
func (i *Index) GetNumberOfKeys() int {
	return i.tree.GetNumberOfKeys()
}

// values returns the distinct values found at addr. Array values add each of
// their elements. ok reports whether the path exists at all.
func (i *Index) values(doc domain.Document, addr []string) (res []any, ok bool) {
	fields, _ := i.fn.GetField(doc, addr...)
	for _, f := range fields {
		v, defined := f.Get()
		if !defined {
			continue
		}
		ok = true
		if arr, isArr := v.([]any); isArr {
			if len(arr) == 0 {
				res = append(res, nil)
			}
			res = append(res, arr...)
			continue
		}
		res = append(res, v)
	}
	if !ok {
		return []any{nil}, false
	}
	slices.SortFunc(res, i.cmpr.Compare)
	return slices.CompactFunc(res, func(a, b any) bool { return i.cmpr.Compare(a, b) == 0 }), true
}

// keys returns the tree keys of doc. A compound index uses one key per
// document, holding the first value of each field.
func (i *Index) keys(doc domain.Document) []any {
	if len(i.addrs) == 1 {
		values, ok := i.values(doc, i.addrs[0])
		if !ok && i.sparse {
			return nil
		}
		return values
	}

	key := make([]any, len(i.addrs))
	found := false
	for n, addr := range i.addrs {
		values, ok := i.values(doc, addr)
		found = found || ok
		key[n] = values[0]
	}
	if !found && i.sparse {
		return nil
	}
	return []any{key}
}

type entry struct {
	key any
	doc domain.Document
}

// Insert implements [domain.Index].
func (i *Index) Insert(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var done []entry
	for _, doc := range docs {
		for _, key := range i.keys(doc) {
			if err := i.tree.Insert(key, doc); err != nil {
				for _, e := range done {
					_ = i.tree.Delete(e.key, &e.doc)
				}
				return i.wrap(key, err)
			}
			done = append(done, entry{key: key, doc: doc})
		}
	}
	return nil
}

func (i *Index) wrap(key any, err error) error {
	var violated bst.ErrUniqueViolated
	if errors.As(err, &violated) {
		return fmt.Errorf("%w: index %s dup key %v", domain.ErrDuplicateKey, strings.Join(i.fields, ","), key)
	}
	return err
}

// Remove implements [domain.Index].
func (i *Index) Remove(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	for _, doc := range docs {
		if err := i.remove(doc); err != nil {
			return err
		}
	}
	return nil
}

func (i *Index) remove(doc domain.Document) error {
	for _, key := range i.keys(doc) {
		node, err := i.tree.Search(key)
		if err != nil {
			return err
		}
		if node == nil {
			continue
		}
		// removing a node with two children can leave a stale child on a
		// pooled node of the tree, so the tree is rebuilt instead
		if node.Lower != nil && node.Greater != nil && len(node.Values) == 1 && node.Values[0] == doc {
			return i.rebuildWithout(doc)
		}
		if err := i.tree.Delete(key, &doc); err != nil {
			return err
		}
	}
	return nil
}

// rebuildWithout indexes again every document but doc.
func (i *Index) rebuildWithout(doc domain.Document) error {
	var docs []domain.Document
	for d := range i.tree.GetAll() {
		if d != doc && !slices.Contains(docs, d) {
			docs = append(docs, d)
		}
	}
	tree := i.newTree()
	for _, d := range docs {
		for _, key := range i.keys(d) {
			if err := tree.Insert(key, d); err != nil {
				return i.wrap(key, err)
			}
		}
	}
	i.tree = tree
	return nil
}

// Update implements [domain.Index].
func (i *Index) Update(ctx context.Context, oldDoc, newDoc domain.Document) error {
	if err := i.Remove(ctx, oldDoc); err != nil {
		return err
	}
	if err := i.Insert(ctx, newDoc); err != nil {
		_ = i.Insert(context.WithoutCancel(ctx), oldDoc)
		return err
	}
	return nil
}

// GetMatching implements [domain.Index].
func (i *Index) GetMatching(key any) []domain.Document {
	node, err := i.tree.Search(key)
	if err != nil || node == nil {
		return []domain.Document{}
	}
	res := make([]domain.Document, 0, len(node.Values))
	for _, doc := range node.Values {
		if !slices.Contains(res, doc) {
			res = append(res, doc)
		}
	}
	return res
}

// Reset implements [domain.Index].
func (i *Index) Reset(ctx context.Context, docs ...domain.Document) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	i.tree = i.newTree()
	return i.Insert(ctx, docs...)
}
