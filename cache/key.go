package cache

// Scope names the second segment of entity keys.
type Scope string

const (
	ScopeList   Scope = "list"
	ScopeDetail Scope = "detail"
)

// Key identifies a cached, fetchable piece of data. Keys are hierarchical:
// every variant expands to an ordered list of segments and a key matches any
// prefix of its own segment list.
//
// The set of variants is closed; use PathKey for shapes not covered by the
// entity variants.
type Key interface {
	isKey()
}

// EntityKey covers everything cached for one entity: [entity].
type EntityKey struct {
	Entity string
}

// ScopeKey covers one scope of an entity: [entity, scope].
type ScopeKey struct {
	Entity string
	Scope  Scope
}

// ListKey identifies a filtered collection: [entity, "list", filters].
// A nil Filters value serializes as an empty object.
type ListKey struct {
	Entity  string
	Filters any
}

// DetailKey identifies a single record: [entity, "detail", id].
type DetailKey struct {
	Entity string
	ID     any
}

// RelationKey identifies a collection nested under a record:
// [entity, "detail", id, relation, filters].
type RelationKey struct {
	Entity   string
	ID       any
	Relation string
	Filters  any
}

// PathKey is a free-form key made of arbitrary serializable segments.
type PathKey []any

func (EntityKey) isKey()   {}
func (ScopeKey) isKey()    {}
func (ListKey) isKey()     {}
func (DetailKey) isKey()   {}
func (RelationKey) isKey() {}
func (PathKey) isKey()     {}

// Path builds a PathKey.
func Path(segments ...any) PathKey {
	return PathKey(segments)
}

// emptyFilters stands in for nil list filters so ListKey{Filters: nil} and
// ListKey{Filters: map[string]any{}} address the same entry.
var emptyFilters = map[string]any{}

// rawSegments expands a key into its unserialized segments.
func rawSegments(k Key) []any {
	switch k := k.(type) {
	case EntityKey:
		return []any{k.Entity}
	case ScopeKey:
		return []any{k.Entity, string(k.Scope)}
	case ListKey:
		return []any{k.Entity, string(ScopeList), filtersOrEmpty(k.Filters)}
	case DetailKey:
		return []any{k.Entity, string(ScopeDetail), k.ID}
	case RelationKey:
		return []any{k.Entity, string(ScopeDetail), k.ID, k.Relation, filtersOrEmpty(k.Filters)}
	case PathKey:
		return []any(k)
	default:
		return nil
	}
}

func filtersOrEmpty(f any) any {
	if f == nil {
		return emptyFilters
	}
	return f
}

// Lists returns the key covering every list of entity.
func Lists(entity string) ScopeKey {
	return ScopeKey{Entity: entity, Scope: ScopeList}
}

// Details returns the key covering every detail entry of entity.
func Details(entity string) ScopeKey {
	return ScopeKey{Entity: entity, Scope: ScopeDetail}
}
