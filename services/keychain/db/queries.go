package db

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

type Credential struct {
	Namespace string
	Username  string
	Password  string
	UpdatedAt int64
}

const getCredential = `
SELECT namespace, username, password, updated_at FROM credential
WHERE namespace = ?
`

func (q *Queries) GetCredential(ctx context.Context, namespace string) (Credential, error) {
	row := q.db.QueryRowContext(ctx, getCredential, namespace)
	var c Credential
	err := row.Scan(&c.Namespace, &c.Username, &c.Password, &c.UpdatedAt)
	return c, err
}

const setCredential = `
INSERT INTO credential (namespace, username, password, updated_at)
VALUES (?, ?, ?, ?)
ON CONFLICT (namespace) DO UPDATE SET
    username = excluded.username,
    password = excluded.password,
    updated_at = excluded.updated_at
`

type SetCredentialParams struct {
	Namespace string
	Username  string
	Password  string
	UpdatedAt int64
}

func (q *Queries) SetCredential(ctx context.Context, arg SetCredentialParams) error {
	_, err := q.db.ExecContext(
		ctx, setCredential,
		arg.Namespace, arg.Username, arg.Password, arg.UpdatedAt,
	)
	return err
}

const deleteCredential = `
DELETE FROM credential WHERE namespace = ?
`

func (q *Queries) DeleteCredential(ctx context.Context, namespace string) error {
	_, err := q.db.ExecContext(ctx, deleteCredential, namespace)
	return err
}

const listNamespaces = `
SELECT namespace FROM credential ORDER BY namespace
`

func (q *Queries) ListNamespaces(ctx context.Context) ([]string, error) {
	rows, err := q.db.QueryContext(ctx, listNamespaces)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var namespaces []string
	for rows.Next() {
		var namespace string
		if err := rows.Scan(&namespace); err != nil {
			return nil, err
		}
		namespaces = append(namespaces, namespace)
	}
	return namespaces, rows.Err()
}
