// Package cache defines query keys and their canonical serialization.
//
// # Overview
//
// Every cached piece of data is addressed by a Key. Keys are hierarchical
// and always expand to an ordered list of segments:
//
//   - EntityKey:   [entity]
//   - ScopeKey:    [entity, scope]
//   - ListKey:     [entity, "list", filters]
//   - DetailKey:   [entity, "detail", id]
//   - RelationKey: [entity, "detail", id, relation, filters]
//   - PathKey:     free-form segments
//
// A key is a prefix of another when its segments match the leading segments
// of the other one. Invalidating EntityKey{"schools"} therefore reaches
// ["schools","list",{...}] as well as ["schools","detail",5].
//
// # Basic Usage
//
//	segs := cache.MustSerialize(cache.ListKey{Entity: "students", Filters: filters})
//	hash := cache.Hash(segs)
//
//	if cache.HasPrefix(segs, cache.MustSerialize(cache.Lists("students"))) {
//		// the list is affected by a student write
//	}
//
// # Key Serialization Strategy
//
// The default key serializer uses reflection and renders each segment in a
// canonical JSON-like form:
//
//   - Strings are quoted, so segment boundaries never collide with content
//   - Integral numbers print as integers whatever their Go type (7, int64(7) and 7.0 are equal)
//   - Maps and structs print as objects with sorted member names
//   - Struct members use their json tag names, so a filter struct and the equivalent map match
//   - Nil pointers, maps, slices and interfaces are dropped, as are omitempty zero values;
//     an undefined filter is the same as an omitted one
//   - Types implementing encoding.TextMarshaler (uuid.UUID, time.Time) use their text form
//   - Types implementing json.Marshaler are marshaled and canonicalized
//
// # Error Handling
//
// Functions, channels, complex numbers and non-finite floats have no stable
// form and are rejected with ErrUnserializable. Keys are built by code, so
// MustSerialize turns that error into a panic at the call site.
package cache
