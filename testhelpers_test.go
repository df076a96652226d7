package identity_test

import (
	"context"
	"database/sql"
	"testing"

	identity "github.com/goliatone/go-identity"
	"github.com/goliatone/go-identity/queue"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"
)

func newTestDB(t *testing.T) *bun.DB {
	t.Helper()

	sqldb, err := sql.Open(sqliteshim.ShimName, ":memory:")
	require.NoError(t, err)
	// A single connection keeps the in-memory database alive and serializes
	// concurrent transactions the way a server database would.
	sqldb.SetMaxOpenConns(1)

	db := bun.NewDB(sqldb, sqlitedialect.New())

	ctx := context.Background()
	for _, model := range []any{
		(*identity.User)(nil),
		(*identity.Token)(nil),
		(*queue.Job)(nil),
	} {
		_, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx)
		require.NoError(t, err)
	}

	t.Cleanup(func() { db.Close() })

	return db
}

type testStack struct {
	db     *bun.DB
	repo   identity.RepositoryManager
	tokens *identity.TokenServiceImpl
	store  *queue.MemoryStore
	queue  queue.Queue
	auther *identity.Auther
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	db := newTestDB(t)
	repo := identity.NewRepositoryManager(db)

	cfg := identity.SimpleConfig{
		SigningKey: "test-signing-key-0123456789",
		Issuer:     "identity-test",
		ClientURL:  "https://app.example.com",
	}

	tokens := identity.NewTokenService(cfg, repo, nil)
	store := queue.NewMemoryStore()
	q := queue.New(store)

	auther := identity.NewAuther(repo, tokens, q).
		WithPasswordAuthenticator(plainHasher{})

	return &testStack{
		db:     db,
		repo:   repo,
		tokens: tokens,
		store:  store,
		queue:  q,
		auther: auther,
	}
}

// plainHasher keeps flow tests fast; bcrypt behavior has its own tests.
type plainHasher struct{}

func (plainHasher) HashPassword(password string) (string, error) {
	if password == "" {
		return "", identity.ErrNoEmptyString
	}
	return "plain:" + password, nil
}

func (plainHasher) ComparePasswordAndHash(password, hash string) error {
	if hash != "plain:"+password {
		return identity.ErrMismatchedHashAndPassword
	}
	return nil
}

func createTestUser(t *testing.T, stack *testStack, email string) *identity.User {
	t.Helper()

	hash, err := plainHasher{}.HashPassword("super-secret-password")
	require.NoError(t, err)

	user, err := stack.repo.Users().Create(context.Background(), &identity.User{
		FirstName:    "Ada",
		LastName:     "Lovelace",
		Email:        email,
		PasswordHash: hash,
	})
	require.NoError(t, err)
	return user
}
