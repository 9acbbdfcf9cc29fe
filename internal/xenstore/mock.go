package xenstore

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Mock is an in-memory Host-Configuration Tree backed by a flat path->value
// map, with directory listing derived from path prefixes. It implements
// both Client and, for its own transactions, Transaction.
type Mock struct {
	mu       sync.Mutex
	data     map[string]string
	watchers map[string][]*mockWatch
	nextTok  int
}

type mockWatch struct {
	path   string
	token  string
	events chan WatchEvent
	closed bool
}

func (w *mockWatch) Events() <-chan WatchEvent { return w.events }

func (w *mockWatch) Cancel() error {
	close(w.events)
	w.closed = true
	return nil
}

// NewMock returns an empty tree.
func NewMock() *Mock {
	return &Mock{
		data:     make(map[string]string),
		watchers: make(map[string][]*mockWatch),
	}
}

func clean(path string) string {
	return strings.TrimRight(path, "/")
}

func (m *Mock) Read(ctx context.Context, path string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.data[clean(path)]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Mock) Write(ctx context.Context, path, value string) error {
	m.mu.Lock()
	m.data[clean(path)] = value
	m.mu.Unlock()
	m.notify(path)
	return nil
}

func (m *Mock) Mkdir(ctx context.Context, path string) error {
	m.mu.Lock()
	p := clean(path)
	if _, ok := m.data[p]; !ok {
		m.data[p] = ""
	}
	m.mu.Unlock()
	m.notify(path)
	return nil
}

func (m *Mock) Rm(ctx context.Context, path string) error {
	p := clean(path)
	m.mu.Lock()
	prefix := p + "/"
	for k := range m.data {
		if k == p || strings.HasPrefix(k, prefix) {
			delete(m.data, k)
		}
	}
	m.mu.Unlock()
	m.notify(path)
	return nil
}

func (m *Mock) Directory(ctx context.Context, path string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	prefix := clean(path) + "/"
	seen := make(map[string]bool)
	for k := range m.data {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		rest := strings.TrimPrefix(k, prefix)
		child := strings.SplitN(rest, "/", 2)[0]
		if child != "" {
			seen[child] = true
		}
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out, nil
}

func (m *Mock) SetPerms(ctx context.Context, path string, domid int, readOnly bool) error {
	// Permissions are not modeled by the in-memory tree; accepted as a
	// no-op so callers exercising the happy path don't need a real
	// permission model.
	return nil
}

func (m *Mock) ReadV(ctx context.Context, paths []string) (map[string]string, error) {
	out := make(map[string]string, len(paths))
	for _, p := range paths {
		v, err := m.Read(ctx, p)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		out[p] = v
	}
	return out, nil
}

func (m *Mock) WriteV(ctx context.Context, values map[string]string) error {
	for p, v := range values {
		if err := m.Write(ctx, p, v); err != nil {
			return err
		}
	}
	return nil
}

func (m *Mock) Watch(ctx context.Context, path, token string) (Watch, error) {
	w := &mockWatch{path: clean(path), token: token, events: make(chan WatchEvent, 16)}
	m.mu.Lock()
	m.watchers[w.path] = append(m.watchers[w.path], w)
	m.mu.Unlock()
	return w, nil
}

// notify wakes every watch registered on path or an ancestor of path,
// mirroring real xenstore's watch-fires-on-subtree-write semantics.
func (m *Mock) notify(path string) {
	p := clean(path)
	m.mu.Lock()
	var hit []*mockWatch
	for watched, ws := range m.watchers {
		if p == watched || strings.HasPrefix(p, watched+"/") || strings.HasPrefix(watched, p+"/") {
			hit = append(hit, ws...)
		}
	}
	m.mu.Unlock()

	for _, w := range hit {
		if w.closed {
			continue
		}
		select {
		case w.events <- WatchEvent{Path: p, Token: w.token}:
		default:
		}
	}
}

// mockTxn is a Transaction that buffers writes and applies them to the
// backing Mock atomically on Commit.
type mockTxn struct {
	m       *Mock
	writes  map[string]string
	removes map[string]bool
}

func (m *Mock) Transaction(ctx context.Context) (Transaction, error) {
	return &mockTxn{m: m, writes: make(map[string]string), removes: make(map[string]bool)}, nil
}

func (t *mockTxn) Read(ctx context.Context, path string) (string, error) {
	p := clean(path)
	if t.removes[p] {
		return "", ErrNotFound
	}
	if v, ok := t.writes[p]; ok {
		return v, nil
	}
	return t.m.Read(ctx, path)
}

func (t *mockTxn) Write(ctx context.Context, path, value string) error {
	p := clean(path)
	delete(t.removes, p)
	t.writes[p] = value
	return nil
}

func (t *mockTxn) Mkdir(ctx context.Context, path string) error {
	p := clean(path)
	if _, ok := t.writes[p]; !ok {
		t.writes[p] = ""
	}
	delete(t.removes, p)
	return nil
}

func (t *mockTxn) Rm(ctx context.Context, path string) error {
	t.removes[clean(path)] = true
	delete(t.writes, clean(path))
	return nil
}

func (t *mockTxn) Directory(ctx context.Context, path string) ([]string, error) {
	return t.m.Directory(ctx, path)
}

func (t *mockTxn) Commit(ctx context.Context) error {
	for p := range t.removes {
		if err := t.m.Rm(ctx, p); err != nil {
			return err
		}
	}
	for p, v := range t.writes {
		if err := t.m.Write(ctx, p, v); err != nil {
			return err
		}
	}
	return nil
}

func (t *mockTxn) Abort(ctx context.Context) error {
	t.writes = nil
	t.removes = nil
	return nil
}

var _ Client = (*Mock)(nil)
