// Package statefile persists an application's in-memory records to a JSON
// document and rebuilds them on startup, where many stored values are
// references to entities owned by some external system that may have
// disappeared since the last save.
//
// The package provides:
//
//   - Serializer, the contract for converting one family of Go types to and
//     from the JSON wire tree, and Registrar, the ordered first-match
//     dispatcher over serializers
//   - Define, a builder that declares the manifest of a record type: literal
//     and factory defaults, remediation handlers for references that no
//     longer resolve, and default producers
//   - Construct/Create, which build a record from keyword fields following
//     that manifest
//   - A stable error model via Issues (JSON Pointer, code, message)
//
// Base serializers live in codec, the file store with backups in store, and
// the command line tool in cmd/statefile.
//
// A serializer returns (nil, nil) when a value cannot be resolved, for
// example because the channel it names was deleted. Containers drop such
// values; records run the remediation handlers of the affected fields and
// are themselves dropped. A non-nil error is structural and aborts the whole
// load or save.
//
// Typical usage:
//
//	var wipSchema = statefile.Define[Wip]().
//		Default("progress", 0).
//		Without(notifyOwner, "channel").
//		MustBuild()
//
//	func (*Wip) Schema() statefile.AnySchema { return wipSchema }
//
//	reg := codec.NewRegistrar().MustRegister(channelRef)
//	st, err := store.Load[State](ctx, "state.json", "backups", reg)
//	...
//	err = st.Save(ctx, 5)
package statefile
