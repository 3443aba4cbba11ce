package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strings"
)

// Resource is the client for one REST collection, e.g. /students.
type Resource[T any] struct {
	client *Client
	path   string
}

// NewResource binds T to the collection at path.
func NewResource[T any](c *Client, path string) Resource[T] {
	return Resource[T]{client: c, path: "/" + strings.Trim(path, "/")}
}

// Path returns the collection path.
func (r Resource[T]) Path() string {
	return r.path
}

func (r Resource[T]) item(id any, rest ...string) string {
	parts := append([]string{r.path, url.PathEscape(fmt.Sprint(id))}, rest...)
	return strings.Join(parts, "/")
}

// List fetches the collection. filters may be nil, url.Values, a map or a
// struct; empty values are left out of the query.
func (r Resource[T]) List(ctx context.Context, filters any) ([]T, error) {
	query, err := EncodeQuery(filters)
	if err != nil {
		return nil, err
	}
	var out listPayload[T]
	if err := r.client.Do(ctx, http.MethodGet, r.path, query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// Get fetches one item.
func (r Resource[T]) Get(ctx context.Context, id any) (T, error) {
	var out T
	err := r.client.Do(ctx, http.MethodGet, r.item(id), nil, nil, &out)
	return out, err
}

// Create posts a new item and returns the stored one.
func (r Resource[T]) Create(ctx context.Context, body any) (T, error) {
	var out T
	err := r.client.Do(ctx, http.MethodPost, r.path, nil, body, &out)
	return out, err
}

// Update applies a partial update (PATCH).
func (r Resource[T]) Update(ctx context.Context, id any, patch any) (T, error) {
	var out T
	err := r.client.Do(ctx, http.MethodPatch, r.item(id), nil, patch, &out)
	return out, err
}

// Replace overwrites the item (PUT).
func (r Resource[T]) Replace(ctx context.Context, id any, body any) (T, error) {
	var out T
	err := r.client.Do(ctx, http.MethodPut, r.item(id), nil, body, &out)
	return out, err
}

// Delete removes the item.
func (r Resource[T]) Delete(ctx context.Context, id any) error {
	return r.client.Do(ctx, http.MethodDelete, r.item(id), nil, nil, nil)
}

// Action posts to an item sub-resource such as /schools/5/publish.
func (r Resource[T]) Action(ctx context.Context, id any, action string, body, out any) error {
	return r.client.Do(ctx, http.MethodPost, r.item(id, action), nil, body, out)
}

// CollectionAction posts to a collection sub-resource such as
// /homeworks/assign.
func (r Resource[T]) CollectionAction(ctx context.Context, action string, body, out any) error {
	return r.client.Do(ctx, http.MethodPost, r.path+"/"+strings.Trim(action, "/"), nil, body, out)
}

// ListRelated fetches a nested collection such as /classes/3/students.
func ListRelated[R, T any](ctx context.Context, r Resource[T], id any, relation string, filters any) ([]R, error) {
	query, err := EncodeQuery(filters)
	if err != nil {
		return nil, err
	}
	var out listPayload[R]
	if err := r.client.Do(ctx, http.MethodGet, r.item(id, relation), query, nil, &out); err != nil {
		return nil, err
	}
	return out.Items, nil
}

// listPayload accepts a bare JSON array or a {"data": [...]} envelope.
type listPayload[T any] struct {
	Items []T
}

func (p *listPayload[T]) UnmarshalJSON(raw []byte) error {
	raw = bytes.TrimSpace(raw)
	if len(raw) > 0 && raw[0] == '[' {
		return json.Unmarshal(raw, &p.Items)
	}
	var env struct {
		Data []T `json:"data"`
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return err
	}
	p.Items = env.Data
	return nil
}

// EncodeQuery flattens filters into URL query values. Struct fields use
// their json names. Nil, empty strings and empty lists are omitted; lists
// repeat the parameter; nested objects are sent as JSON.
func EncodeQuery(filters any) (url.Values, error) {
	switch f := filters.(type) {
	case nil:
		return nil, nil
	case url.Values:
		out := make(url.Values, len(f))
		for k, vs := range f {
			for _, v := range vs {
				if v != "" {
					out.Add(k, v)
				}
			}
		}
		return out, nil
	}

	raw, err := json.Marshal(filters)
	if err != nil {
		return nil, fmt.Errorf("api: encode filters: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("api: filters must encode to a JSON object: %w", err)
	}

	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make(url.Values, len(fields))
	for _, name := range names {
		switch v := fields[name].(type) {
		case nil:
		case []any:
			for _, item := range v {
				if s, ok := queryValue(item); ok {
					out.Add(name, s)
				}
			}
		default:
			if s, ok := queryValue(v); ok {
				out.Set(name, s)
			}
		}
	}
	return out, nil
}

func queryValue(v any) (string, bool) {
	switch x := v.(type) {
	case nil:
		return "", false
	case string:
		return x, x != ""
	case json.Number:
		return x.String(), true
	case bool:
		if x {
			return "true", true
		}
		return "false", true
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return "", false
		}
		return string(raw), true
	}
}
