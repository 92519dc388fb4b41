// Package identity issues anonymous identities, signs identity tokens, and
// tracks the current identity on the client side.
package identity

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when an identity id is unknown.
var ErrNotFound = errors.New("identity not found")

// Identity is a caller of the system. Anonymous identities are issued on
// demand with no credentials; an identity becomes named once it is given a
// display name.
type Identity struct {
	ID          string    `json:"id"`
	Anonymous   bool      `json:"anonymous"`
	DisplayName string    `json:"display_name,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
}

// Label is the author label shown next to comments.
func (i *Identity) Label() string {
	if i.Anonymous {
		short := i.ID
		if len(short) > 5 {
			short = short[:5]
		}
		return "Anonymous-" + short
	}
	if name := strings.TrimSpace(i.DisplayName); name != "" {
		return name
	}
	return "User"
}

// Issuer creates new anonymous identities together with a bearer token.
type Issuer interface {
	Issue(ctx context.Context) (*Identity, string, error)
}

// Provider stores identities in SQLite and signs their tokens.
type Provider struct {
	db     *sql.DB
	tokens *TokenManager
}

// NewProvider creates an identity provider.
func NewProvider(db *sql.DB, tokens *TokenManager) *Provider {
	return &Provider{db: db, tokens: tokens}
}

// Issue creates a new anonymous identity and returns it with a signed token.
func (p *Provider) Issue(ctx context.Context) (*Identity, string, error) {
	id := uuid.NewString()
	if _, err := p.db.ExecContext(ctx,
		"INSERT INTO identities (id, anonymous) VALUES (?, 1)", id,
	); err != nil {
		return nil, "", fmt.Errorf("inserting identity: %w", err)
	}

	ident, err := p.Get(ctx, id)
	if err != nil {
		return nil, "", err
	}

	token, err := p.tokens.Generate(ident)
	if err != nil {
		return nil, "", err
	}
	return ident, token, nil
}

// Token signs a fresh token for an existing identity.
func (p *Provider) Token(ctx context.Context, id string) (string, error) {
	ident, err := p.Get(ctx, id)
	if err != nil {
		return "", err
	}
	return p.tokens.Generate(ident)
}

// Get loads an identity by id.
func (p *Provider) Get(ctx context.Context, id string) (*Identity, error) {
	var ident Identity
	var anonymous int
	err := p.db.QueryRowContext(ctx,
		"SELECT id, anonymous, display_name, created_at FROM identities WHERE id = ?", id,
	).Scan(&ident.ID, &anonymous, &ident.DisplayName, &ident.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("querying identity: %w", err)
	}
	ident.Anonymous = anonymous != 0
	return &ident, nil
}

// Resolve validates a token and returns the identity it names, recording
// the access time.
func (p *Provider) Resolve(ctx context.Context, token string) (*Identity, error) {
	claims, err := p.tokens.Validate(token)
	if err != nil {
		return nil, err
	}

	ident, err := p.Get(ctx, claims.IdentityID)
	if errors.Is(err, ErrNotFound) {
		return nil, fmt.Errorf("%w: unknown identity", ErrInvalidToken)
	}
	if err != nil {
		return nil, err
	}

	if _, err := p.db.ExecContext(ctx,
		"UPDATE identities SET last_seen_at = CURRENT_TIMESTAMP WHERE id = ?", ident.ID,
	); err != nil {
		return nil, fmt.Errorf("touching identity: %w", err)
	}
	return ident, nil
}

// SetDisplayName names an identity, making it non-anonymous.
func (p *Provider) SetDisplayName(ctx context.Context, id, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return fmt.Errorf("display name is required")
	}

	result, err := p.db.ExecContext(ctx,
		"UPDATE identities SET display_name = ?, anonymous = 0 WHERE id = ?", name, id,
	)
	if err != nil {
		return fmt.Errorf("updating identity: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
