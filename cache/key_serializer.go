package cache

import (
	"encoding"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"strings"
)

// KeySeparator defines the delimiter used between serialized key segments.
const KeySeparator = "::"

// ErrUnserializable is returned when a key segment holds a value that has no
// stable serialized form (functions, channels, complex numbers, NaN).
var ErrUnserializable = errors.New("cache: value cannot be serialized into a key segment")

// KeySerializer expands a Key into its serialized segments.
// Implementations must return byte-identical segments for logically equal keys.
type KeySerializer interface {
	SerializeKey(k Key) ([]string, error)
}

var (
	textMarshalerType = reflect.TypeOf((*encoding.TextMarshaler)(nil)).Elem()
	jsonMarshalerType = reflect.TypeOf((*json.Marshaler)(nil)).Elem()
	jsonNumberType    = reflect.TypeOf(json.Number(""))
)

// defaultKeySerializer implements KeySerializer using reflection.
// Segments are rendered in a canonical JSON-like form: object members are
// sorted, undefined members (nil pointers, nil maps, nil slices, nil
// interfaces, omitempty zero values) are dropped and integral numbers print
// the same regardless of their Go type.
type defaultKeySerializer struct{}

// NewDefaultKeySerializer creates a new instance of the default key serializer.
func NewDefaultKeySerializer() KeySerializer {
	return &defaultKeySerializer{}
}

var defaultSerializer = &defaultKeySerializer{}

// SerializeKey renders every segment of k.
func (s *defaultKeySerializer) SerializeKey(k Key) ([]string, error) {
	if k == nil {
		return nil, fmt.Errorf("%w: nil key", ErrUnserializable)
	}
	raw := rawSegments(k)
	if len(raw) == 0 {
		return nil, fmt.Errorf("%w: key %T has no segments", ErrUnserializable, k)
	}

	parts := make([]string, len(raw))
	for i, seg := range raw {
		out, err := s.serializeValue(reflect.ValueOf(seg))
		if err != nil {
			return nil, fmt.Errorf("segment %d: %w", i, err)
		}
		parts[i] = out
	}
	return parts, nil
}

// serializeValue handles individual segment serialization based on kind.
func (s *defaultKeySerializer) serializeValue(rv reflect.Value) (string, error) {
	if isUndefined(rv) {
		return "null", nil
	}

	rt := rv.Type()

	if rt == jsonNumberType {
		return s.serializeNumber(rv.String())
	}

	if rv.CanInterface() && rt.Implements(textMarshalerType) {
		text, err := rv.Interface().(encoding.TextMarshaler).MarshalText()
		if err != nil {
			return "", fmt.Errorf("%w: %s: %v", ErrUnserializable, rt, err)
		}
		return strconv.Quote(string(text)), nil
	}

	if rv.CanInterface() && rt.Implements(jsonMarshalerType) {
		return s.jsonFallback(rv.Interface())
	}

	switch rt.Kind() {
	case reflect.Ptr, reflect.Interface:
		return s.serializeValue(rv.Elem())
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return s.serializeFloat(rv.Float())
	case reflect.String:
		return strconv.Quote(rv.String()), nil
	case reflect.Slice, reflect.Array:
		return s.serializeList(rv)
	case reflect.Map:
		return s.serializeMap(rv)
	case reflect.Struct:
		return s.serializeStruct(rv)
	default:
		return "", fmt.Errorf("%w: %s", ErrUnserializable, rt)
	}
}

func (s *defaultKeySerializer) serializeFloat(f float64) (string, error) {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return "", fmt.Errorf("%w: non-finite number", ErrUnserializable)
	}
	// 7 and 7.0 are the same logical parameter
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return strconv.FormatInt(int64(f), 10), nil
	}
	return strconv.FormatFloat(f, 'g', -1, 64), nil
}

func (s *defaultKeySerializer) serializeNumber(n string) (string, error) {
	f, err := strconv.ParseFloat(n, 64)
	if err != nil {
		return "", fmt.Errorf("%w: %q is not a number", ErrUnserializable, n)
	}
	return s.serializeFloat(f)
}

// serializeList handles slices and arrays recursively
func (s *defaultKeySerializer) serializeList(rv reflect.Value) (string, error) {
	length := rv.Len()
	parts := make([]string, length)

	for i := 0; i < length; i++ {
		out, err := s.serializeValue(rv.Index(i))
		if err != nil {
			return "", err
		}
		parts[i] = out
	}

	return "[" + strings.Join(parts, ",") + "]", nil
}

// serializeMap handles map serialization with sorted keys for determinism
func (s *defaultKeySerializer) serializeMap(rv reflect.Value) (string, error) {
	members := make(map[string]string, rv.Len())

	iter := rv.MapRange()
	for iter.Next() {
		value := iter.Value()
		if isUndefined(value) {
			continue
		}
		name, err := s.memberName(iter.Key())
		if err != nil {
			return "", err
		}
		out, err := s.serializeValue(value)
		if err != nil {
			return "", err
		}
		members[name] = out
	}

	return joinMembers(members), nil
}

// serializeStruct renders exported fields under their json names so a struct
// and an equivalent map produce the same segment.
func (s *defaultKeySerializer) serializeStruct(rv reflect.Value) (string, error) {
	members := make(map[string]string)
	if err := s.collectFields(rv, members); err != nil {
		return "", err
	}
	return joinMembers(members), nil
}

func (s *defaultKeySerializer) collectFields(rv reflect.Value, members map[string]string) error {
	rt := rv.Type()

	for i := 0; i < rt.NumField(); i++ {
		field := rt.Field(i)
		name, omitEmpty, skip := fieldName(field)
		if skip {
			continue
		}

		fieldValue := rv.Field(i)

		if field.Anonymous && field.Tag.Get("json") == "" {
			embedded := fieldValue
			if embedded.Kind() == reflect.Ptr {
				if embedded.IsNil() {
					continue
				}
				embedded = embedded.Elem()
			}
			if embedded.Kind() == reflect.Struct {
				if err := s.collectFields(embedded, members); err != nil {
					return err
				}
				continue
			}
		}

		if !field.IsExported() || isUndefined(fieldValue) {
			continue
		}
		if omitEmpty && fieldValue.IsZero() {
			continue
		}

		out, err := s.serializeValue(fieldValue)
		if err != nil {
			return fmt.Errorf("field %s: %w", field.Name, err)
		}
		members[name] = out
	}
	return nil
}

func (s *defaultKeySerializer) memberName(k reflect.Value) (string, error) {
	for k.Kind() == reflect.Interface && !k.IsNil() {
		k = k.Elem()
	}
	if k.Kind() == reflect.String {
		return k.String(), nil
	}
	out, err := s.serializeValue(k)
	if err != nil {
		return "", err
	}
	return strings.Trim(out, `"`), nil
}

// jsonFallback canonicalizes types that only know how to marshal themselves.
func (s *defaultKeySerializer) jsonFallback(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: %T: %v", ErrUnserializable, v, err)
	}

	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()

	var generic any
	if err := dec.Decode(&generic); err != nil {
		return "", fmt.Errorf("%w: %T: %v", ErrUnserializable, v, err)
	}
	return s.serializeValue(reflect.ValueOf(generic))
}

func fieldName(field reflect.StructField) (name string, omitEmpty bool, skip bool) {
	tag := field.Tag.Get("json")
	if tag == "-" {
		return "", false, true
	}
	name = field.Name
	if tag != "" {
		parts := strings.Split(tag, ",")
		if parts[0] != "" {
			name = parts[0]
		}
		for _, opt := range parts[1:] {
			if opt == "omitempty" || opt == "omitzero" {
				omitEmpty = true
			}
		}
	}
	return name, omitEmpty, false
}

// isUndefined reports values that behave like an absent parameter.
func isUndefined(rv reflect.Value) bool {
	if !rv.IsValid() {
		return true
	}
	switch rv.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return rv.IsNil()
	}
	return false
}

func joinMembers(members map[string]string) string {
	names := make([]string, 0, len(members))
	for name := range members {
		names = append(names, name)
	}
	sort.Strings(names)

	pairs := make([]string, len(names))
	for i, name := range names {
		pairs[i] = strconv.Quote(name) + ":" + members[name]
	}
	return "{" + strings.Join(pairs, ",") + "}"
}

// Serialize expands k with the default serializer.
func Serialize(k Key) ([]string, error) {
	return defaultSerializer.SerializeKey(k)
}

// MustSerialize is like Serialize but panics when k holds an unserializable
// value. Keys are built by code, so a failure here is a programming error.
func MustSerialize(k Key) []string {
	segs, err := Serialize(k)
	if err != nil {
		panic(fmt.Sprintf("cache: invalid query key %#v: %v", k, err))
	}
	return segs
}

// Hash joins serialized segments into the string used to index entries.
func Hash(segments []string) string {
	return strings.Join(segments, KeySeparator)
}

// HasPrefix reports whether key starts with every segment of prefix.
// Matching is segment-wise, so ["students"] never matches ["students_archive"].
func HasPrefix(key, prefix []string) bool {
	if len(prefix) > len(key) {
		return false
	}
	for i := range prefix {
		if key[i] != prefix[i] {
			return false
		}
	}
	return true
}
