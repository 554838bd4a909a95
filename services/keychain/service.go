package keychain

import (
	"context"
	"database/sql"
	"errors"

	"gymassist-backend/lib/timezone"
	"gymassist-backend/services/keychain/db"

	"go.opentelemetry.io/otel"

	_ "modernc.org/sqlite"
)

var tracer = otel.Tracer("services/keychain")

// ErrNotFound is returned when no credential is stored under a namespace.
var ErrNotFound = errors.New("no credential stored for namespace")

// Service stores one username/password pair per namespace. The portal
// service reads its login here so credentials never live in config files.
type Service struct {
	qry *db.Queries
}

func NewService(database *sql.DB) Service {
	return Service{qry: db.New(database)}
}

func (s Service) Get(ctx context.Context, namespace string) (username, password string, err error) {
	ctx, span := tracer.Start(ctx, "keychain:Get")
	defer span.End()

	row, err := s.qry.GetCredential(ctx, namespace)
	if errors.Is(err, sql.ErrNoRows) {
		return "", "", ErrNotFound
	}
	if err != nil {
		return "", "", err
	}
	return row.Username, row.Password, nil
}

func (s Service) Set(ctx context.Context, namespace, username, password string) error {
	ctx, span := tracer.Start(ctx, "keychain:Set")
	defer span.End()

	return s.qry.SetCredential(ctx, db.SetCredentialParams{
		Namespace: namespace,
		Username:  username,
		Password:  password,
		UpdatedAt: timezone.Now().Unix(),
	})
}

func (s Service) Delete(ctx context.Context, namespace string) error {
	ctx, span := tracer.Start(ctx, "keychain:Delete")
	defer span.End()

	return s.qry.DeleteCredential(ctx, namespace)
}

func (s Service) List(ctx context.Context) ([]string, error) {
	ctx, span := tracer.Start(ctx, "keychain:List")
	defer span.End()

	return s.qry.ListNamespaces(ctx)
}
