package store

import (
	"context"
	"time"

	"github.com/dorch-network/dorch/pkg/util"
)

const userColumns = `id, username, password_hash, tenant, token, token_timestamp`

func scanUser(row interface {
	Scan(dest ...interface{}) error
}) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Username, &u.PasswordHash, &u.Tenant,
		&u.Token, &u.TokenTimestamp)
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// UserByName returns the user with the given name, or nil.
func (s *Store) UserByName(ctx context.Context, username string) (*User, error) {
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE username = ?`, username))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load user", err)
	}
	return u, nil
}

// UserByToken returns the user holding the given API token, or nil.
func (s *Store) UserByToken(ctx context.Context, token string) (*User, error) {
	if token == "" {
		return nil, nil
	}
	u, err := scanUser(s.db.QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM user WHERE token = ?`, token))
	if noRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, util.NewStorageError("load user by token", err)
	}
	return u, nil
}

// UpdateUserToken records a freshly issued token for the user.
func (s *Store) UpdateUserToken(ctx context.Context, userID int64, token string, issuedAt time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE user SET token = ?, token_timestamp = ? WHERE id = ?`,
		token, issuedAt.UTC(), userID)
	return storageError("update user token", err)
}

// Users returns every user, ordered by name.
func (s *Store) Users(ctx context.Context) ([]*User, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+userColumns+` FROM user ORDER BY username ASC`)
	if err != nil {
		return nil, util.NewStorageError("list users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, util.NewStorageError("list users", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, util.NewStorageError("list users", err)
	}
	return users, nil
}

// CreateUser stores a new user with an already hashed password.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, tenant string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO user (username, password_hash, tenant) VALUES (?, ?, ?)`,
		username, passwordHash, tenant)
	return storageError("create user", err)
}

// DeleteUser removes a user by name.
func (s *Store) DeleteUser(ctx context.Context, username string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM user WHERE username = ?`, username)
	if err != nil {
		return storageError("delete user", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return util.ErrNotFound
	}
	return nil
}
