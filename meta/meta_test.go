package meta_test

import (
	"errors"
	"reflect"
	"runtime"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/canon/meta"
)

type Address struct {
	City string
}

type Account struct {
	ID       int64     `canon:"id,readable"`
	Email    string    `canon:"email,rw"`
	Tags     []string  `canon:"tags,rw"`
	Home     *Address  `canon:"home,rw"`
	Joined   time.Time `canon:"joined,readable"`
	Score    int       `canon:",rw,container"`
	Secret   string
	Internal string `canon:"-"`
	hidden   string
}

func (a *Account) Rename(first, last string) error { return nil }
func (a Account) Label() string                    { return a.Email }

func TestIntrospect_ContainerOnScalarKind(t *testing.T) {
	_, err := meta.Introspect("account", Account{})
	if !errors.Is(err, meta.ErrInvalidTag) {
		t.Fatalf("expected ErrInvalidTag for int container, got %v", err)
	}
}

type Profile struct {
	ID     int64     `canon:"id,readable"`
	Email  string    `canon:"email,rw"`
	Tags   []string  `canon:"tags,rw"`
	Home   *Address  `canon:"home,rw"`
	Joined time.Time `canon:"joined,readable"`
	Avatar []byte    `canon:"avatar,writable"`
	Kind   string    `canon:"kind,readable,reference"`
	Secret string
	Skip   string `canon:"-"`
	hidden string
}

func (p *Profile) Rename(first, last string) error { return nil }
func (p Profile) Label() string                    { return p.Email }

func TestIntrospect(t *testing.T) {
	c, err := meta.Introspect("profile", &Profile{Email: "a@b.com", Tags: []string{"x"}})
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}

	tests := []struct {
		name     string
		readable bool
		writable bool
		tag      meta.TypeTag
	}{
		{"id", true, false, meta.Scalar},
		{"email", true, true, meta.Scalar},
		{"tags", true, true, meta.Container},
		{"home", true, true, meta.Reference},
		{"joined", true, false, meta.Scalar},
		{"avatar", false, true, meta.Scalar},
		{"kind", true, false, meta.Reference},
		{"secret", false, false, meta.Scalar},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := c.Property(tt.name)
			if err != nil {
				t.Fatalf("Property(%q) failed: %v", tt.name, err)
			}
			if p.Readable() != tt.readable {
				t.Errorf("expected readable=%v, got %v", tt.readable, p.Readable())
			}
			if p.Writable() != tt.writable {
				t.Errorf("expected writable=%v, got %v", tt.writable, p.Writable())
			}
			if p.Type() != tt.tag {
				t.Errorf("expected tag %s, got %s", tt.tag, p.Type())
			}
			if p.Owner() != c {
				t.Error("expected owner back-reference to the composite")
			}
		})
	}

	if _, err := c.Property("skip"); !errors.Is(err, meta.ErrPropertyNotFound) {
		t.Errorf("expected '-' field to be skipped, got %v", err)
	}
	if _, err := c.Property("hidden"); !errors.Is(err, meta.ErrPropertyNotFound) {
		t.Errorf("expected unexported field to be skipped, got %v", err)
	}
	if len(c.Properties()) != len(tests) {
		t.Errorf("expected %d properties, got %d", len(tests), len(c.Properties()))
	}
}

func TestIntrospect_Defaults(t *testing.T) {
	c, err := meta.Introspect("profile", Profile{Email: "a@b.com", Tags: []string{"x", "y"}})
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}

	email, _ := c.Property("email")
	if email.Default() != "a@b.com" {
		t.Errorf("expected default 'a@b.com', got %v", email.Default())
	}

	tags, _ := c.Property("tags")
	def, ok := tags.Default().([]any)
	if !ok || !reflect.DeepEqual(def, []any{"x", "y"}) {
		t.Fatalf("expected container default [x y], got %#v", tags.Default())
	}
	// Defaults are copies
	def[0] = "mutated"
	again := tags.Default().([]any)
	if again[0] != "x" {
		t.Error("expected container default to be copied on read")
	}

	home, _ := c.Property("home")
	if home.Default() != nil {
		t.Errorf("expected nil default for nil pointer, got %v", home.Default())
	}
}

func TestIntrospect_EmptyContainerDefault(t *testing.T) {
	c, err := meta.Introspect("profile", Profile{})
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}
	tags, _ := c.Property("tags")
	def, ok := tags.Default().([]any)
	if !ok || len(def) != 0 {
		t.Errorf("expected empty []any default, got %#v", tags.Default())
	}
}

func TestIntrospect_Methods(t *testing.T) {
	c, err := meta.Introspect("profile", Profile{})
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}

	m, err := c.Method("Rename")
	if err != nil {
		t.Fatalf("Method(Rename) failed: %v", err)
	}
	params := m.Params()
	if len(params) != 2 || params[0].Type != "string" || params[1].Index != 1 {
		t.Errorf("unexpected params %+v", params)
	}
	if m.Owner() != c {
		t.Error("expected method owner back-reference")
	}
	if _, err := c.Method("Label"); err != nil {
		t.Errorf("expected value-receiver method to be described, got %v", err)
	}
	if _, err := c.Method("Nope"); !errors.Is(err, meta.ErrMethodNotFound) {
		t.Errorf("expected ErrMethodNotFound, got %v", err)
	}
}

func TestIntrospect_InvalidPrototype(t *testing.T) {
	for _, proto := range []any{nil, 42, "x", []int{1}} {
		if _, err := meta.Introspect("bad", proto); !errors.Is(err, meta.ErrInvalidPrototype) {
			t.Errorf("Introspect(%v): expected ErrInvalidPrototype, got %v", proto, err)
		}
	}
}

func TestIntrospect_NilPointerPrototype(t *testing.T) {
	c, err := meta.Introspect("profile", (*Profile)(nil))
	if err != nil {
		t.Fatalf("Introspect failed: %v", err)
	}
	if _, err := c.Property("email"); err != nil {
		t.Errorf("expected email property, got %v", err)
	}
}

func TestNewComposite_Duplicate(t *testing.T) {
	_, err := meta.NewComposite("user",
		meta.NewProperty("id", meta.Scalar),
		meta.NewProperty("id", meta.Scalar),
	)
	if !errors.Is(err, meta.ErrDuplicateMember) {
		t.Errorf("expected ErrDuplicateMember, got %v", err)
	}
}

func TestNewComposite_CopiesMembers(t *testing.T) {
	shared := meta.NewProperty("id", meta.Scalar, meta.Readable())
	a, _ := meta.NewComposite("a", shared)
	b, _ := meta.NewComposite("b", shared)

	pa, _ := a.Property("id")
	pb, _ := b.Property("id")
	if pa.Owner() != a || pb.Owner() != b {
		t.Error("expected each composite to own its own copy")
	}
	if shared.Owner() != nil {
		t.Error("expected the seed property to stay unowned")
	}
}

func TestParseTypeTag(t *testing.T) {
	for _, tag := range []meta.TypeTag{meta.Untyped, meta.Scalar, meta.Container, meta.Reference} {
		got, err := meta.ParseTypeTag(tag.String())
		if err != nil || got != tag {
			t.Errorf("ParseTypeTag(%q) = %v, %v", tag.String(), got, err)
		}
	}
	if _, err := meta.ParseTypeTag("blob"); !errors.Is(err, meta.ErrInvalidTag) {
		t.Errorf("expected ErrInvalidTag, got %v", err)
	}
	if meta.TypeTag(42).String() != "unknown(42)" {
		t.Errorf("unexpected String for unknown tag: %q", meta.TypeTag(42).String())
	}
}

func TestProperty_IsProperty(t *testing.T) {
	if meta.NewProperty("x", meta.Untyped).IsProperty() {
		t.Error("expected untyped member not to be a property")
	}
	if !meta.NewProperty("x", meta.Scalar).IsProperty() {
		t.Error("expected scalar member to be a property")
	}
}

func TestStore_DescribeMemoized(t *testing.T) {
	s := meta.NewStore()
	if err := s.Register("profile", Profile{}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	first, err := s.Describe("profile")
	if err != nil {
		t.Fatalf("Describe failed: %v", err)
	}
	second, _ := s.Describe("profile")
	if first != second {
		t.Error("expected Describe to return the memoized composite")
	}
}

func TestStore_DescribeConcurrent(t *testing.T) {
	s := meta.NewStore()
	s.Register("profile", Profile{})

	workers := runtime.GOMAXPROCS(0) * 4
	got := make([]*meta.Composite, workers)
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			got[w], _ = s.Describe("profile")
		}(w)
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if got[i] != got[0] {
			t.Fatal("expected exactly one build shared by all callers")
		}
	}
}

func TestStore_Errors(t *testing.T) {
	s := meta.NewStore()

	if _, err := s.Describe("nope"); !errors.Is(err, meta.ErrTypeNotRegistered) {
		t.Errorf("expected ErrTypeNotRegistered, got %v", err)
	}
	if err := s.Register("bad", 1); !errors.Is(err, meta.ErrInvalidPrototype) {
		t.Errorf("expected ErrInvalidPrototype, got %v", err)
	}

	s.Register("profile", Profile{})
	if err := s.Register("profile", Profile{}); !errors.Is(err, meta.ErrAlreadyRegistered) {
		t.Errorf("expected ErrAlreadyRegistered, got %v", err)
	}

	if _, err := s.Property("profile", "missing"); !errors.Is(err, meta.ErrPropertyNotFound) {
		t.Errorf("expected ErrPropertyNotFound, got %v", err)
	}
	if p, err := s.Property("profile", "email"); err != nil || p.Name() != "email" {
		t.Errorf("expected email property, got %v, %v", p, err)
	}
}

func TestStore_RegisterComposite(t *testing.T) {
	s := meta.NewStore()
	c, err := meta.NewComposite("user",
		meta.NewProperty("id", meta.Scalar, meta.Readable()),
		meta.NewProperty("roles", meta.Container, meta.ReadWrite(), meta.Default([]any{"member"})),
		meta.NewMethod("Promote", meta.Parameter{Index: 0, Type: "string"}),
	)
	if err != nil {
		t.Fatalf("NewComposite failed: %v", err)
	}
	if err := s.RegisterComposite(c); err != nil {
		t.Fatalf("RegisterComposite failed: %v", err)
	}

	got, _ := s.Describe("user")
	if got != c {
		t.Error("expected the registered composite to be returned as-is")
	}
	if types := s.Types(); len(types) != 1 || types[0] != "user" {
		t.Errorf("expected [user], got %v", types)
	}
}

func TestStore_IntrospectionErrorIsMemoized(t *testing.T) {
	s := meta.NewStore()
	s.Register("account", Account{})

	_, err1 := s.Describe("account")
	_, err2 := s.Describe("account")
	if !errors.Is(err1, meta.ErrInvalidTag) || !errors.Is(err2, meta.ErrInvalidTag) {
		t.Errorf("expected memoized ErrInvalidTag, got %v / %v", err1, err2)
	}
}
