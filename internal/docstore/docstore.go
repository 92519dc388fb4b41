// Package docstore provides a schemaless, multi-writer document store on
// SQLite with per-caller access policy and live subscriptions.
//
// Documents live at slash-separated paths alternating collection and id
// segments, e.g. "sessions/{sid}/listings/{lid}". Every read and write goes
// through a Client bound to a caller identity, and the Store's Policy
// decides whether the caller may perform it.
package docstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/evcraddock/rent-finder/internal/metrics"
)

var (
	ErrNotFound         = errors.New("document not found")
	ErrAlreadyExists    = errors.New("document already exists")
	ErrPermissionDenied = errors.New("permission denied")
	ErrInvalidPath      = errors.New("invalid path")
)

// Document is a snapshot of one stored document.
type Document struct {
	ID        string                 `json:"id"`
	Path      string                 `json:"path"`
	Data      map[string]interface{} `json:"data"`
	CreatedAt time.Time              `json:"created_at"`
	UpdatedAt time.Time              `json:"updated_at"`
}

// Decode unmarshals the document data into v.
func (d *Document) Decode(v interface{}) error {
	raw, err := json.Marshal(d.Data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", d.Path, err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decoding %s: %w", d.Path, err)
	}
	return nil
}

// Field returns the value at a dotted field path.
func (d *Document) Field(field string) (interface{}, bool) {
	return getField(d.Data, field)
}

// Store is the shared document database. Use As to obtain a caller-bound Client.
type Store struct {
	db      *sql.DB
	policy  Policy
	metrics *metrics.Metrics
	now     func() time.Time
	hub     *hub
}

// Option configures a Store.
type Option func(*Store)

// WithMetrics reports subscription activity to m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Store) { s.metrics = m }
}

// WithClock overrides the clock used for document timestamps.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates a Store over an open database. A nil policy allows everything.
func New(db *sql.DB, policy Policy, opts ...Option) *Store {
	if policy == nil {
		policy = AllowAll
	}
	s := &Store{
		db:     db,
		policy: policy,
		now:    time.Now,
		hub:    newHub(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// As returns a Client acting on behalf of caller. An empty caller is
// unauthenticated.
func (s *Store) As(caller string) *Client {
	return &Client{store: s, caller: caller}
}

// NewID returns a fresh, lexically time-ordered document id.
func NewID() string {
	return ulid.Make().String()
}

// Client performs document operations as a single caller.
type Client struct {
	store  *Store
	caller string
}

// Caller returns the identity this client acts for.
func (c *Client) Caller() string {
	return c.caller
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// readDoc loads a document, returning ErrNotFound if it is missing.
func readDoc(ctx context.Context, q queryer, path string) (*Document, error) {
	var d Document
	var raw string
	err := q.QueryRowContext(ctx,
		"SELECT path, id, data, created_at, updated_at FROM documents WHERE path = ?", path,
	).Scan(&d.Path, &d.ID, &raw, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", path, err)
	}
	if err := json.Unmarshal([]byte(raw), &d.Data); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", path, err)
	}
	return &d, nil
}

// lookupFunc returns a Lookup reading through q.
func lookupFunc(ctx context.Context, q queryer) Lookup {
	return func(path string) (map[string]interface{}, error) {
		d, err := readDoc(ctx, q, path)
		if errors.Is(err, ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			return nil, err
		}
		return d.Data, nil
	}
}

func (c *Client) authorize(ctx context.Context, q queryer, req Request) error {
	req.Caller = c.caller
	if err := c.store.policy.Authorize(req, lookupFunc(ctx, q)); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			return err
		}
		return fmt.Errorf("%w: %v", ErrPermissionDenied, err)
	}
	return nil
}

// Get reads a single document.
func (c *Client) Get(ctx context.Context, path string) (*Document, error) {
	if _, _, err := splitDocPath(path); err != nil {
		return nil, err
	}

	d, err := readDoc(ctx, c.store.db, path)
	if err != nil && !errors.Is(err, ErrNotFound) {
		return nil, err
	}

	req := Request{Op: OpGet, Path: path}
	if d != nil {
		req.Before = d.Data
	}
	if authErr := c.authorize(ctx, c.store.db, req); authErr != nil {
		return nil, authErr
	}

	if d == nil {
		return nil, fmt.Errorf("%s: %w", path, ErrNotFound)
	}
	return d, nil
}

// Create writes a new document, failing if one already exists at path.
func (c *Client) Create(ctx context.Context, path string, data interface{}) error {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	after, err := toMap(data)
	if err != nil {
		return err
	}

	return c.write(ctx, []string{path}, func(tx *sql.Tx) error {
		existing, err := readDoc(ctx, tx, path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
		if existing != nil {
			return fmt.Errorf("%s: %w", path, ErrAlreadyExists)
		}

		if err := c.authorize(ctx, tx, Request{Op: OpCreate, Path: path, After: after}); err != nil {
			return err
		}

		return c.insert(ctx, tx, path, collection, id, after)
	})
}

// Add creates a document with a generated id in collection and returns the id.
func (c *Client) Add(ctx context.Context, collection string, data interface{}) (string, error) {
	if !validCollection(collection) {
		return "", fmt.Errorf("%w: %q is not a collection path", ErrInvalidPath, collection)
	}
	id := NewID()
	if err := c.Create(ctx, Join(collection, id), data); err != nil {
		return "", err
	}
	return id, nil
}

// Set writes the full contents of a document, creating it if needed.
func (c *Client) Set(ctx context.Context, path string, data interface{}) error {
	collection, id, err := splitDocPath(path)
	if err != nil {
		return err
	}
	after, err := toMap(data)
	if err != nil {
		return err
	}

	return c.write(ctx, []string{path}, func(tx *sql.Tx) error {
		existing, err := readDoc(ctx, tx, path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		if existing == nil {
			if err := c.authorize(ctx, tx, Request{Op: OpCreate, Path: path, After: after}); err != nil {
				return err
			}
			return c.insert(ctx, tx, path, collection, id, after)
		}

		fields := make([]string, 0, len(after)+len(existing.Data))
		for k := range after {
			fields = append(fields, k)
		}
		for k := range existing.Data {
			if _, ok := after[k]; !ok {
				fields = append(fields, k)
			}
		}
		req := Request{Op: OpUpdate, Path: path, Before: existing.Data, After: after, Fields: fields}
		if err := c.authorize(ctx, tx, req); err != nil {
			return err
		}
		return c.replace(ctx, tx, path, after)
	})
}

// Update merges fields into an existing document. Keys are dotted field
// paths, so "members.abc" sets one entry of the members map.
func (c *Client) Update(ctx context.Context, path string, fields map[string]interface{}) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}
	if len(fields) == 0 {
		return nil
	}
	patch, err := toMap(fields)
	if err != nil {
		return err
	}

	return c.write(ctx, []string{path}, func(tx *sql.Tx) error {
		existing, err := readDoc(ctx, tx, path)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				return fmt.Errorf("%s: %w", path, ErrNotFound)
			}
			return err
		}

		after, err := toMap(existing.Data)
		if err != nil {
			return err
		}
		names := make([]string, 0, len(patch))
		for k, v := range patch {
			setField(after, k, v)
			names = append(names, k)
		}

		req := Request{Op: OpUpdate, Path: path, Before: existing.Data, After: after, Fields: names}
		if err := c.authorize(ctx, tx, req); err != nil {
			return err
		}
		return c.replace(ctx, tx, path, after)
	})
}

// Delete removes a document and everything nested beneath it. Deleting a
// missing document is not an error.
func (c *Client) Delete(ctx context.Context, path string) error {
	if _, _, err := splitDocPath(path); err != nil {
		return err
	}

	var removed []string
	err := c.write(ctx, nil, func(tx *sql.Tx) error {
		existing, err := readDoc(ctx, tx, path)
		if err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}

		req := Request{Op: OpDelete, Path: path}
		if existing != nil {
			req.Before = existing.Data
		}
		if err := c.authorize(ctx, tx, req); err != nil {
			return err
		}
		if existing == nil {
			return nil
		}

		prefix := escapeLike(path) + "/%"
		rows, err := tx.QueryContext(ctx,
			`SELECT path FROM documents WHERE path = ? OR path LIKE ? ESCAPE '\'`, path, prefix)
		if err != nil {
			return fmt.Errorf("finding descendants of %s: %w", path, err)
		}
		for rows.Next() {
			var p string
			if err := rows.Scan(&p); err != nil {
				_ = rows.Close()
				return fmt.Errorf("scanning path: %w", err)
			}
			removed = append(removed, p)
		}
		if err := rows.Close(); err != nil {
			return fmt.Errorf("closing rows: %w", err)
		}

		if _, err := tx.ExecContext(ctx,
			`DELETE FROM documents WHERE path = ? OR path LIKE ? ESCAPE '\'`, path, prefix); err != nil {
			return fmt.Errorf("deleting %s: %w", path, err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	c.store.hub.publish(removed)
	return nil
}

// write runs fn in a transaction and publishes changed paths on commit.
func (c *Client) write(ctx context.Context, changed []string, fn func(tx *sql.Tx) error) error {
	tx, err := c.store.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}

	if err := fn(tx); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return fmt.Errorf("%w (also failed to roll back: %v)", err, rbErr)
		}
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing: %w", err)
	}

	c.store.hub.publish(changed)
	return nil
}

func (c *Client) insert(ctx context.Context, tx *sql.Tx, path, collection, id string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	now := c.store.now().UTC()
	if _, err := tx.ExecContext(ctx,
		"INSERT INTO documents (path, collection, id, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)",
		path, collection, id, string(raw), now, now,
	); err != nil {
		return fmt.Errorf("inserting %s: %w", path, err)
	}
	return nil
}

func (c *Client) replace(ctx context.Context, tx *sql.Tx, path string, data map[string]interface{}) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	if _, err := tx.ExecContext(ctx,
		"UPDATE documents SET data = ?, updated_at = ? WHERE path = ?",
		string(raw), c.store.now().UTC(), path,
	); err != nil {
		return fmt.Errorf("updating %s: %w", path, err)
	}
	return nil
}

// toMap normalizes a struct or map into generic JSON document data.
func toMap(v interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encoding document data: %w", err)
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("document data must be an object: %w", err)
	}
	if m == nil {
		m = make(map[string]interface{})
	}
	return m, nil
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
