package users

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/gogotex/jwtsession/internal/database"
	"github.com/gogotex/jwtsession/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func openTestRepo(t *testing.T) *MongoUserRepository {
	t.Helper()
	uri := os.Getenv("MONGODB_TEST_URI")
	if uri == "" {
		t.Skip("MONGODB_TEST_URI not set")
	}
	ctx := context.Background()
	client, err := database.ConnectMongo(ctx, uri, 5*time.Second)
	require.NoError(t, err)
	db := client.Database("users_test_" + uuid.NewString()[:8])
	t.Cleanup(func() {
		_ = db.Drop(context.Background())
		_ = client.Disconnect(context.Background())
	})
	repo := NewMongoUserRepository(db.Collection("users"))
	require.NoError(t, repo.EnsureIndexes(ctx))
	return repo
}

func federated(sub, email string) *models.User {
	return &models.User{ID: uuid.NewString(), OIDCSub: sub, Email: email, AccessToken: uuid.NewString()}
}

func TestMongoUserRepository_FederatedWithoutEmail(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()

	a, err := repo.UpsertBySub(ctx, federated("sub-a", ""))
	require.NoError(t, err)
	b, err := repo.UpsertBySub(ctx, federated("sub-b", ""))
	require.NoError(t, err)
	require.NotEqual(t, a.ID, b.ID)
}

func TestMongoUserRepository_UpsertEmailTaken(t *testing.T) {
	repo := openTestRepo(t)
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, &models.User{ID: uuid.NewString(), Email: "local@example.com", AccessToken: uuid.NewString()}))

	_, err := repo.UpsertBySub(ctx, federated("sub-c", "local@example.com"))
	require.ErrorIs(t, err, ErrEmailTaken)

	// re-login of the same federated user does not collide with itself
	_, err = repo.UpsertBySub(ctx, federated("sub-d", "fed@example.com"))
	require.NoError(t, err)
	_, err = repo.UpsertBySub(ctx, federated("sub-d", "fed@example.com"))
	require.NoError(t, err)
}
