package model_test

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/jacentio/canon/model"
	"github.com/jacentio/canon/source"
)

// --- Test Entity Types ---

type User struct {
	ID      int      `canon:"id,readable"`
	Email   string   `canon:"email,rw"`
	Name    string   `canon:"name,rw"`
	Roles   []string `canon:"roles,rw"`
	Created int      `canon:"created,readable"`
	Secret  string   `canon:"secret,writable"`
	Badges  []string `canon:"badges,readable"`
	Note    string
}

type Post struct {
	ID     int      `canon:"id,readable"`
	Title  string   `canon:"title,rw"`
	Author *User    `canon:"author,rw"`
	Tags   []string `canon:"tags,rw"`
}

type Node struct {
	ID   string `canon:"id,readable"`
	Next *Node  `canon:"next,rw"`
}

// --- Recording Gateway ---

type update struct {
	id  any
	rec source.Record
}

// fakeSource binds every type to one recording gateway per type.
type fakeSource struct {
	caps source.Capabilities

	mu       sync.Mutex
	gateways map[string]*fakeGateway
}

func newFakeSource(caps source.Capabilities) *fakeSource {
	return &fakeSource{caps: caps, gateways: make(map[string]*fakeGateway)}
}

func (s *fakeSource) Bind(typeName string) (source.Gateway, error) {
	return s.gateway(typeName), nil
}

func (s *fakeSource) gateway(typeName string) *fakeGateway {
	s.mu.Lock()
	defer s.mu.Unlock()
	gw, ok := s.gateways[typeName]
	if !ok {
		gw = &fakeGateway{typeName: typeName, caps: s.caps}
		s.gateways[typeName] = gw
	}
	return gw
}

type fakeGateway struct {
	typeName string
	caps     source.Capabilities

	mu      sync.Mutex
	nextID  int
	records []source.Record
	creates []source.Record
	updates []update
	deletes []any
}

func (g *fakeGateway) TypeName() string                  { return g.typeName }
func (g *fakeGateway) Capabilities() source.Capabilities { return g.caps }

func (g *fakeGateway) Query() *source.Query {
	return source.NewQuery(g, func(ctx context.Context, q *source.Query) ([]source.Record, error) {
		g.mu.Lock()
		defer g.mu.Unlock()
		return source.Apply(g.records, q), nil
	})
}

func (g *fakeGateway) Create(ctx context.Context, rec source.Record) (any, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.creates = append(g.creates, rec.Clone())
	g.nextID++
	return 100 + g.nextID, nil
}

func (g *fakeGateway) Update(ctx context.Context, id any, rec source.Record) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.updates = append(g.updates, update{id: id, rec: rec.Clone()})
	return nil
}

func (g *fakeGateway) Delete(ctx context.Context, id any) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.deletes = append(g.deletes, id)
	return nil
}

func (g *fakeGateway) counts() (creates, updates, deletes int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.creates), len(g.updates), len(g.deletes)
}

// --- Helpers ---

func newResolver(t *testing.T, specs ...model.TypeSpec) *model.Resolver {
	t.Helper()
	r := model.NewResolver(model.DefaultConfig())
	for _, spec := range specs {
		if _, err := r.Register(spec); err != nil {
			t.Fatalf("Register(%s) failed: %v", spec.Name, err)
		}
	}
	return r
}

func userSpec() model.TypeSpec {
	return model.TypeSpec{
		Name:       "user",
		Prototype:  User{},
		UniqueKeys: []string{"email"},
	}
}

func mustGet(t *testing.T, e *model.Entity, name string) any {
	t.Helper()
	v, err := e.Get(name)
	if err != nil {
		t.Fatalf("Get(%q) failed: %v", name, err)
	}
	return v
}

func mustLoad(t *testing.T, r *model.Resolver, typeName string, rec source.Record) *model.Entity {
	t.Helper()
	e, err := r.InstanceFromData(context.Background(), typeName, rec)
	if err != nil {
		t.Fatalf("InstanceFromData failed: %v", err)
	}
	return e
}

// stringer is a structured value with a custom string form.
type stringer struct{ a, b int }

func (s stringer) String() string { return fmt.Sprintf("%d-%d", s.a, s.b) }
