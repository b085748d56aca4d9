package query

import (
	"context"
	"reflect"

	"github.com/vinicius-lino-figueiredo/gedm/domain"
	"go.mongodb.org/mongo-driver/v2/bson"
)

// Iterator implements [domain.Iterator] over a driver cursor, decoding each
// document when its value is requested.
type Iterator[T any] struct {
	cur    domain.Cursor
	codec  domain.Codec
	ctx    context.Context
	err    error
	closed bool
}

// NewIterator returns an iterator decoding the documents of cur with codec.
func NewIterator[T any](cur domain.Cursor, codec domain.Codec) *Iterator[T] {
	return &Iterator[T]{cur: cur, codec: codec, ctx: context.Background()}
}

// Next implements [domain.Iterator].
func (it *Iterator[T]) Next(ctx context.Context) bool {
	if it.closed {
		it.err = domain.ErrCursorClosed
		return false
	}
	it.ctx = ctx
	return it.cur.Next(ctx)
}

// Value implements [domain.Iterator]. Entities implementing
// [domain.PostLoader] are notified before being returned.
func (it *Iterator[T]) Value() (T, error) {
	if it.closed {
		var zero T
		return zero, domain.ErrCursorClosed
	}
	return Decode[T](it.ctx, it.codec, it.cur.Current())
}

// Err implements [domain.Iterator].
func (it *Iterator[T]) Err() error {
	if it.err != nil {
		return it.err
	}
	return it.cur.Err()
}

// Close implements [domain.Iterator]. Closing twice is a no-op.
func (it *Iterator[T]) Close(ctx context.Context) error {
	if it.closed {
		return nil
	}
	it.closed = true
	return it.cur.Close(ctx)
}

// Decode decodes raw into a new T, allocating it when T is a pointer, and
// runs its post load hook.
func Decode[T any](ctx context.Context, codec domain.Codec, raw bson.Raw) (T, error) {
	var out T
	var target any = &out
	if t := reflect.TypeFor[T](); t.Kind() == reflect.Pointer {
		v := reflect.New(t.Elem())
		out = v.Interface().(T)
		target = out
	}
	if err := codec.Decode(raw, target); err != nil {
		var zero T
		return zero, err
	}
	if pl, ok := target.(domain.PostLoader); ok {
		if err := pl.PostLoad(ctx); err != nil {
			var zero T
			return zero, err
		}
	}
	return out, nil
}
