package identity

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/go-webauthn/webauthn/webauthn"
)

// PasskeyUser implements webauthn.User for one identity.
type PasskeyUser struct {
	identity    *Identity
	credentials []webauthn.Credential
}

// NewPasskeyUser creates a PasskeyUser for ident.
func NewPasskeyUser(ident *Identity, credentials []webauthn.Credential) *PasskeyUser {
	return &PasskeyUser{identity: ident, credentials: credentials}
}

// WebAuthnID is the identity id, which is also the passkey user handle.
func (u *PasskeyUser) WebAuthnID() []byte { return []byte(u.identity.ID) }

func (u *PasskeyUser) WebAuthnName() string { return u.identity.Label() }

func (u *PasskeyUser) WebAuthnDisplayName() string { return u.identity.Label() }

func (u *PasskeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

// Identity returns the identity this user represents.
func (u *PasskeyUser) Identity() *Identity { return u.identity }

// PasskeyStore manages passkey credentials in SQLite.
type PasskeyStore struct {
	db *sql.DB
}

// NewPasskeyStore creates a passkey store.
func NewPasskeyStore(db *sql.DB) *PasskeyStore {
	return &PasskeyStore{db: db}
}

// StoredCredential is a passkey credential with metadata.
type StoredCredential struct {
	ID         string
	IdentityID string
	Name       string
	Credential webauthn.Credential
}

// Save stores a new passkey credential for an identity.
func (s *PasskeyStore) Save(ctx context.Context, identityID, name string, cred *webauthn.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}

	id := fmt.Sprintf("%x", cred.ID)
	if _, err := s.db.ExecContext(ctx,
		"INSERT INTO passkey_credentials (id, identity_id, name, credential_json) VALUES (?, ?, ?, ?)",
		id, identityID, name, string(data),
	); err != nil {
		return fmt.Errorf("storing credential: %w", err)
	}
	return nil
}

// List returns all credentials registered to an identity.
func (s *PasskeyStore) List(ctx context.Context, identityID string) (_ []StoredCredential, err error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, identity_id, name, credential_json FROM passkey_credentials WHERE identity_id = ? ORDER BY created_at",
		identityID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying credentials: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil && err == nil {
			err = fmt.Errorf("closing rows: %w", closeErr)
		}
	}()

	var result []StoredCredential
	for rows.Next() {
		var sc StoredCredential
		var data string
		if err := rows.Scan(&sc.ID, &sc.IdentityID, &sc.Name, &data); err != nil {
			return nil, fmt.Errorf("scanning credential: %w", err)
		}
		if err := json.Unmarshal([]byte(data), &sc.Credential); err != nil {
			return nil, fmt.Errorf("unmarshaling credential: %w", err)
		}
		result = append(result, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating credentials: %w", err)
	}
	return result, nil
}

// WebAuthnCredentials returns just the webauthn.Credential slice for an identity.
func (s *PasskeyStore) WebAuthnCredentials(ctx context.Context, identityID string) ([]webauthn.Credential, error) {
	stored, err := s.List(ctx, identityID)
	if err != nil {
		return nil, err
	}

	creds := make([]webauthn.Credential, len(stored))
	for i, sc := range stored {
		creds[i] = sc.Credential
	}
	return creds, nil
}

// UpdateCredential replaces the stored credential after a login, keeping
// its sign counter current.
func (s *PasskeyStore) UpdateCredential(ctx context.Context, cred *webauthn.Credential) error {
	data, err := json.Marshal(cred)
	if err != nil {
		return fmt.Errorf("marshaling credential: %w", err)
	}
	if _, err := s.db.ExecContext(ctx,
		"UPDATE passkey_credentials SET credential_json = ? WHERE id = ?",
		string(data), fmt.Sprintf("%x", cred.ID),
	); err != nil {
		return fmt.Errorf("updating credential: %w", err)
	}
	return nil
}

// Delete removes one of an identity's credentials.
func (s *PasskeyStore) Delete(ctx context.Context, id, identityID string) error {
	result, err := s.db.ExecContext(ctx,
		"DELETE FROM passkey_credentials WHERE id = ? AND identity_id = ?",
		id, identityID,
	)
	if err != nil {
		return fmt.Errorf("deleting credential: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking affected rows: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("credential not found")
	}
	return nil
}
