package filter

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tkingovr/iochain/api"
)

// recorder collects the names of filters in invocation order.
type recorder struct {
	mu   sync.Mutex
	seen []string
}

func (r *recorder) add(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, name)
}

func (r *recorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func tap(rec *recorder, name string) Filter {
	return Func(func(context.Context, *Event) (Outcome, error) {
		rec.add(name)
		return Forward, nil
	})
}

func nop() Filter {
	return Func(func(context.Context, *Event) (Outcome, error) { return Forward, nil })
}

// uncomparable cannot be compared with ==.
type uncomparable []string

func (uncomparable) Process(context.Context, *Event) (Outcome, error) { return Forward, nil }

func TestBuilder_AddAndGet(t *testing.T) {
	b := NewBuilder()
	a, c := nop(), nop()

	require.NoError(t, b.AddLast("a", a))
	require.NoError(t, b.AddFirst("c", c))

	assert.Equal(t, []string{"c", "a"}, b.Names())
	assert.Equal(t, 2, b.Len())

	got, ok := b.Get("a")
	require.True(t, ok)
	assert.Same(t, a, got)

	e, ok := b.Entry("c")
	require.True(t, ok)
	assert.Equal(t, "c", e.Name)
	assert.Same(t, c, e.Filter)

	e, ok = b.EntryOf(a)
	require.True(t, ok)
	assert.Equal(t, "a", e.Name)

	assert.True(t, b.Contains("a"))
	assert.True(t, b.ContainsFilter(c))
	assert.False(t, b.Contains("missing"))
	assert.False(t, b.ContainsFilter(nop()))

	_, ok = b.Get("missing")
	assert.False(t, ok)
}

func TestBuilder_DuplicateNameLeavesSequenceUnchanged(t *testing.T) {
	b := NewBuilder()
	first := nop()
	require.NoError(t, b.AddLast("a", first))
	require.NoError(t, b.AddLast("b", nop()))
	before := b.Version()

	for _, add := range []func() error{
		func() error { return b.AddFirst("a", nop()) },
		func() error { return b.AddLast("b", nop()) },
		func() error { return b.AddBefore("b", "a", nop()) },
		func() error { return b.AddAfter("a", "b", nop()) },
	} {
		err := add()
		assert.ErrorIs(t, err, ErrDuplicateName)
	}

	assert.Equal(t, []string{"a", "b"}, b.Names())
	assert.Equal(t, before, b.Version())
	got, _ := b.Get("a")
	assert.Same(t, first, got)
}

func TestBuilder_AddBeforeAfter(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))
	require.NoError(t, b.AddLast("b", nop()))
	require.NoError(t, b.AddLast("c", nop()))

	require.NoError(t, b.AddBefore("b", "x", nop()))
	assert.Equal(t, []string{"a", "x", "b", "c"}, b.Names())

	require.NoError(t, b.AddAfter("b", "y", nop()))
	assert.Equal(t, []string{"a", "x", "b", "y", "c"}, b.Names())

	require.NoError(t, b.AddBefore("a", "head", nop()))
	require.NoError(t, b.AddAfter("c", "tail", nop()))
	assert.Equal(t, []string{"head", "a", "x", "b", "y", "c", "tail"}, b.Names())
}

func TestBuilder_BaseNotFound(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))

	assert.ErrorIs(t, b.AddBefore("ghost", "x", nop()), ErrBaseNotFound)
	assert.ErrorIs(t, b.AddAfter("ghost", "x", nop()), ErrBaseNotFound)
	assert.Equal(t, []string{"a"}, b.Names())
}

func TestBuilder_InvalidArguments(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))

	tests := []struct {
		name string
		call func() error
	}{
		{"empty name first", func() error { return b.AddFirst("", nop()) }},
		{"empty name last", func() error { return b.AddLast("", nop()) }},
		{"nil filter", func() error { return b.AddLast("x", nil) }},
		{"empty base before", func() error { return b.AddBefore("", "x", nop()) }},
		{"empty base after", func() error { return b.AddAfter("", "x", nop()) }},
		// the base is validated before the duplicate lookup
		{"empty base with duplicate name", func() error { return b.AddAfter("", "a", nop()) }},
		{"empty remove", func() error { _, err := b.Remove(""); return err }},
		{"nil remove", func() error { _, err := b.RemoveFilter(nil); return err }},
		{"nil replace", func() error { _, err := b.Replace("a", nil); return err }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.ErrorIs(t, tt.call(), ErrInvalidArgument)
		})
	}
	assert.Equal(t, []string{"a"}, b.Names())
}

func TestBuilder_RemoveRoundTrip(t *testing.T) {
	b := NewBuilder()
	f := nop()
	require.NoError(t, b.AddLast("a", f))
	require.NoError(t, b.AddLast("b", nop()))

	got, err := b.Remove("a")
	require.NoError(t, err)
	assert.Same(t, f, got)

	_, ok := b.Get("a")
	assert.False(t, ok)
	assert.Equal(t, []string{"b"}, b.Names())

	_, err = b.Remove("a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuilder_RemoveGhostFromEmpty(t *testing.T) {
	b := NewBuilder()

	_, err := b.Remove("ghost")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Zero(t, b.Len())
	assert.Equal(t, "{ empty }", b.String())
}

func TestBuilder_RemoveFilter(t *testing.T) {
	b := NewBuilder()
	f := nop()
	require.NoError(t, b.AddLast("a", nop()))
	require.NoError(t, b.AddLast("b", f))

	got, err := b.RemoveFilter(f)
	require.NoError(t, err)
	assert.Same(t, f, got)
	assert.Equal(t, []string{"a"}, b.Names())

	_, err = b.RemoveFilter(f)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuilder_UncomparableFilterNeverMatchesByIdentity(t *testing.T) {
	b := NewBuilder()
	f := uncomparable{"x"}
	require.NoError(t, b.AddLast("u", f))

	assert.True(t, b.Contains("u"))
	assert.False(t, b.ContainsFilter(f))
	_, err := b.RemoveFilter(f)
	assert.ErrorIs(t, err, ErrNotFound)

	// still removable by name
	_, err = b.Remove("u")
	assert.NoError(t, err)
}

func TestBuilder_Replace(t *testing.T) {
	b := NewBuilder()
	old, repl := nop(), nop()
	require.NoError(t, b.AddLast("a", nop()))
	require.NoError(t, b.AddLast("b", old))
	require.NoError(t, b.AddLast("c", nop()))

	got, err := b.Replace("b", repl)
	require.NoError(t, err)
	assert.Same(t, old, got)

	now, _ := b.Get("b")
	assert.Same(t, repl, now)
	assert.Equal(t, []string{"a", "b", "c"}, b.Names())

	_, err = b.Replace("ghost", repl)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestBuilder_ClearAndSet(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))
	require.NoError(t, b.AddLast("b", nop()))

	b.Clear()
	assert.Zero(t, b.Len())

	require.NoError(t, b.Set([]Entry{{Name: "x", Filter: nop()}, {Name: "y", Filter: nop()}}))
	assert.Equal(t, []string{"x", "y"}, b.Names())

	err := b.Set([]Entry{{Name: "p", Filter: nop()}, {Name: "p", Filter: nop()}})
	assert.ErrorIs(t, err, ErrDuplicateName)
	err = b.Set([]Entry{{Name: "p", Filter: nil}})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Equal(t, []string{"x", "y"}, b.Names())
}

func TestBuilder_String(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("codec", nop()))
	require.NoError(t, b.AddLast("limit", NewRateLimitFilter(RateLimitConfig{})))
	require.NoError(t, b.AddLast("u", uncomparable{}))

	assert.Equal(t, "{ (codec:func), (limit:rate_limit), (u:filter.uncomparable) }", b.String())
}

func TestBuilder_VersionGrowsOnMutation(t *testing.T) {
	b := NewBuilder()
	v0 := b.Version()
	require.NoError(t, b.AddLast("a", nop()))
	v1 := b.Version()
	assert.Greater(t, v1, v0)

	_, err := b.Remove("ghost")
	require.Error(t, err)
	assert.Equal(t, v1, b.Version())
}

func TestBuilder_InstantiateIsolation(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))

	first, err := b.Instantiate()
	require.NoError(t, err)

	require.NoError(t, b.AddLast("b", nop()))
	second, err := b.Instantiate()
	require.NoError(t, err)

	assert.Equal(t, []string{"a"}, first.Names())
	assert.Equal(t, []string{"a", "b"}, second.Names())

	require.NoError(t, first.AddLast("only-first", nop()))
	_, err = second.Remove("a")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "only-first"}, first.Names())
	assert.Equal(t, []string{"b"}, second.Names())
	assert.Equal(t, []string{"a", "b"}, b.Names())
}

func TestBuilder_InstantiateSharesFilters(t *testing.T) {
	b := NewBuilder()
	f := nop()
	require.NoError(t, b.AddLast("a", f))

	c1, err := b.Instantiate()
	require.NoError(t, err)
	c2, err := b.Instantiate()
	require.NoError(t, err)

	g1, _ := c1.Get("a")
	g2, _ := c2.Get("a")
	assert.Same(t, f, g1)
	assert.Same(t, f, g2)
	assert.NotEqual(t, c1.ID(), c2.ID())
}

func TestBuilder_BuildChain(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", nop()))
	require.NoError(t, b.AddLast("b", nop()))

	c, err := NewBuilder().Instantiate()
	require.NoError(t, err)
	require.NoError(t, c.AddLast("own", nop()))

	require.NoError(t, b.BuildChain(c))
	assert.Equal(t, []string{"own", "a", "b"}, c.Names())

	assert.ErrorIs(t, b.BuildChain(c), ErrDuplicateName)
}

func TestBuilder_ConcurrentSetAndInstantiate(t *testing.T) {
	b := NewBuilder()
	shapes := [][]string{{"a", "b", "c"}, {"x", "y"}}
	entries := func(names []string) []Entry {
		out := make([]Entry, len(names))
		for i, n := range names {
			out[i] = Entry{Name: n, Filter: nop()}
		}
		return out
	}
	require.NoError(t, b.Set(entries(shapes[0])))

	stop := make(chan struct{})
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
			}
			_ = b.Set(entries(shapes[i%2]))
		}
	}()

	var readers sync.WaitGroup
	errs := make(chan error, 8)
	for w := 0; w < 8; w++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 500; i++ {
				c, err := b.Instantiate()
				if err != nil {
					errs <- err
					return
				}
				got := fmt.Sprint(c.Names())
				if got != fmt.Sprint(shapes[0]) && got != fmt.Sprint(shapes[1]) {
					errs <- fmt.Errorf("torn snapshot %s", got)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	<-writerDone
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestBuilder_MutationsDoNotTouchLiveChainDispatch(t *testing.T) {
	rec := &recorder{}
	b := NewBuilder()
	require.NoError(t, b.AddLast("a", tap(rec, "a")))

	c, err := b.Instantiate()
	require.NoError(t, err)

	require.NoError(t, b.AddFirst("z", tap(rec, "z")))
	require.NoError(t, c.FireIngress(context.Background(), api.EventRead, nil))
	assert.Equal(t, []string{"a"}, rec.list())
}

func TestSameFilter(t *testing.T) {
	f := nop()
	assert.True(t, sameFilter(f, f))
	assert.False(t, sameFilter(f, nop()))
	assert.False(t, sameFilter(f, nil))
	assert.False(t, sameFilter(uncomparable{}, uncomparable{}))

	type holder struct{ Filter }
	// holder is comparable by type but carries an uncomparable value
	assert.False(t, sameFilter(holder{uncomparable{}}, holder{uncomparable{}}))
}
