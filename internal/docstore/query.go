package docstore

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var fieldPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// Filter restricts a query to documents whose field equals Value.
type Filter struct {
	Field string
	Value interface{}
}

// Query selects documents directly inside one collection.
type Query struct {
	Collection string
	Filters    []Filter
	OrderField string
	Descending bool
	Limit      int
}

// Collection starts a query over the documents of a collection.
func Collection(path string) Query {
	return Query{Collection: path}
}

// Where adds an equality filter.
func (q Query) Where(field string, value interface{}) Query {
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// OrderBy sorts results by a field.
func (q Query) OrderBy(field string, descending bool) Query {
	q.OrderField = field
	q.Descending = descending
	return q
}

// WithLimit caps the number of results.
func (q Query) WithLimit(n int) Query {
	q.Limit = n
	return q
}

func (q Query) validate() error {
	if !validCollection(q.Collection) {
		return fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, q.Collection)
	}
	for _, f := range q.Filters {
		if !fieldPattern.MatchString(f.Field) {
			return fmt.Errorf("invalid filter field %q", f.Field)
		}
	}
	if q.OrderField != "" && !fieldPattern.MatchString(q.OrderField) {
		return fmt.Errorf("invalid order field %q", q.OrderField)
	}
	return nil
}

func (q Query) sql() (string, []interface{}, error) {
	var b strings.Builder
	args := []interface{}{q.Collection}
	b.WriteString("SELECT path, id, data, created_at, updated_at FROM documents WHERE collection = ?")

	for _, f := range q.Filters {
		b.WriteString(" AND json_extract(data, '$." + f.Field + "') = ?")
		v, err := filterArg(f.Value)
		if err != nil {
			return "", nil, err
		}
		args = append(args, v)
	}

	if q.OrderField != "" {
		dir := "ASC"
		if q.Descending {
			dir = "DESC"
		}
		b.WriteString(" ORDER BY json_extract(data, '$." + q.OrderField + "') " + dir + ", id " + dir)
	} else {
		b.WriteString(" ORDER BY id ASC")
	}

	if q.Limit > 0 {
		b.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
	}
	return b.String(), args, nil
}

// filterArg converts a filter value into something json_extract compares equal to.
func filterArg(v interface{}) (interface{}, error) {
	switch x := v.(type) {
	case bool:
		if x {
			return 1, nil
		}
		return 0, nil
	case string, int, int64, float64, nil:
		return x, nil
	default:
		raw, err := json.Marshal(x)
		if err != nil {
			return nil, fmt.Errorf("encoding filter value: %w", err)
		}
		var n float64
		if err := json.Unmarshal(raw, &n); err == nil {
			return n, nil
		}
		var s string
		if err := json.Unmarshal(raw, &s); err == nil {
			return s, nil
		}
		return nil, fmt.Errorf("unsupported filter value %T", v)
	}
}

// Query returns the documents matching q.
func (c *Client) Query(ctx context.Context, q Query) (_ []*Document, err error) {
	if err := q.validate(); err != nil {
		return nil, err
	}
	if err := c.authorize(ctx, c.store.db, Request{Op: OpList, Path: q.Collection}); err != nil {
		return nil, err
	}

	query, args, err := q.sql()
	if err != nil {
		return nil, err
	}

	rows, err := c.store.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", q.Collection, err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	var docs []*Document
	for rows.Next() {
		var d Document
		var raw string
		if err := rows.Scan(&d.Path, &d.ID, &raw, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning document: %w", err)
		}
		if err := json.Unmarshal([]byte(raw), &d.Data); err != nil {
			return nil, fmt.Errorf("decoding %s: %w", d.Path, err)
		}
		docs = append(docs, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating documents: %w", err)
	}
	return docs, nil
}
