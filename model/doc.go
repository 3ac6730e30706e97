// Package model resolves entities through a multi-key identity cache.
//
// A [Resolver] guarantees that, for as long as an entity stays cached, every
// lookup of the same logical record returns the same *[Entity], whichever
// key it was found by.
//
// # Key Features
//
//   - One instance per record across id, unique and builder keys
//   - Concurrent builds of the same key collapse into one builder call
//   - Property access checked against readable/writable descriptors
//   - Dirty tracking, so sources that support it only receive changed fields
//   - Autosave on guard release
//
// # Types
//
// Entity types are registered with a [TypeSpec]. The prototype's struct tags
// describe its properties:
//
//	type User struct {
//	    ID    int      `canon:"id,readable"`
//	    Email string   `canon:"email,rw"`
//	    Roles []string `canon:"roles,rw"`
//	}
//
//	r := model.NewResolver(model.DefaultConfig())
//	r.Register(model.TypeSpec{
//	    Name:       "user",
//	    Prototype:  User{},
//	    UniqueKeys: []string{"email"},
//	    Source:     src,
//	    Builders:   map[string]model.BuilderFunc{"email": fromEmail},
//	})
//
// # Resolution
//
// [Resolver.From] consults the cache and then the type's builder for the key.
// [Resolver.FindBy] runs a "__findBy<criteria>" hook if the type has one and
// otherwise returns an unexecuted query on the type's source. [Resolver.Call]
// dispatches "from<Key>" and "findBy<Criteria>" names to either.
//
// # Errors
//
//   - [ErrTypeNotRegistered] - no such type
//   - [ErrCannotCreateEntity] - no builder, or the builder produced nothing
//   - [ErrNoSuchHook] - findBy without a hook or a source
//   - [ErrPropertyNotReadable], [ErrPropertyNotWritable] - access denied
//   - [ErrNoSource] - remove without a source
package model
