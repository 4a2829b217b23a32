package device_test

import (
	"context"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crmpush/crmpush/internal/device"
)

// These tests run against the Firestore emulator
// (gcloud emulators firestore start) and are skipped without it.
func newFirestoreRepository(t *testing.T) (*device.FirestoreRepository, *firestore.Client) {
	t.Helper()
	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), "crmpush-test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })

	return device.NewFirestoreRepository(client), client
}

func uniqueToken() string {
	return "tok-" + uuid.NewString()
}

func countTokenDocs(t *testing.T, client *firestore.Client, token string) int {
	t.Helper()
	docs, err := client.Collection(device.TokensCollection).
		Where("fcm_token", "==", token).
		Documents(context.Background()).
		GetAll()
	require.NoError(t, err)
	return len(docs)
}

func addLegacyDoc(t *testing.T, client *firestore.Client, token, userID string, createdAt time.Time) {
	t.Helper()
	_, _, err := client.Collection(device.TokensCollection).Add(context.Background(), map[string]any{
		"fcm_token":  token,
		"user_id":    userID,
		"platform":   "ios",
		"created_at": createdAt,
		"updated_at": createdAt,
	})
	require.NoError(t, err)
}

func TestFirestoreRepository_UpsertTransfersOwnership(t *testing.T) {
	repo, client := newFirestoreRepository(t)
	ctx := context.Background()
	token := uniqueToken()

	first := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created, err := repo.Upsert(ctx, &device.DeviceToken{
		Token: token, UserID: "u1", Platform: device.PlatformIOS, CreatedAt: first, UpdatedAt: first,
	})
	require.NoError(t, err)
	assert.True(t, created)

	later := first.Add(time.Hour)
	transfer := &device.DeviceToken{
		Token: token, UserID: "u2", Platform: device.PlatformAndroid, CreatedAt: later, UpdatedAt: later,
	}
	created, err = repo.Upsert(ctx, transfer)
	require.NoError(t, err)
	assert.False(t, created)
	assert.True(t, first.Equal(transfer.CreatedAt))

	stored, err := repo.Find(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.UserID)
	assert.Equal(t, device.PlatformAndroid, stored.Platform)
	assert.True(t, first.Equal(stored.CreatedAt))
	assert.Equal(t, 1, countTokenDocs(t, client, token))
}

func TestFirestoreRepository_UpsertFoldsLegacyDocuments(t *testing.T) {
	repo, client := newFirestoreRepository(t)
	ctx := context.Background()
	token := uniqueToken()

	legacyCreated := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	addLegacyDoc(t, client, token, "u1", legacyCreated)
	addLegacyDoc(t, client, token, "u1", legacyCreated.Add(time.Minute))
	require.Equal(t, 2, countTokenDocs(t, client, token))

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	created, err := repo.Upsert(ctx, &device.DeviceToken{
		Token: token, UserID: "u2", Platform: device.PlatformWeb, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	assert.False(t, created, "a legacy record counts as existing")

	assert.Equal(t, 1, countTokenDocs(t, client, token))
	stored, err := repo.Find(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, "u2", stored.UserID)
	assert.True(t, legacyCreated.Equal(stored.CreatedAt), "earliest created_at is kept")

	tokens, err := repo.ListTokens(ctx)
	require.NoError(t, err)
	seen := 0
	for _, tok := range tokens {
		if tok == token {
			seen++
		}
	}
	assert.Equal(t, 1, seen)
}

func TestFirestoreRepository_DeleteByToken(t *testing.T) {
	repo, client := newFirestoreRepository(t)
	ctx := context.Background()
	token := uniqueToken()

	now := time.Now().UTC()
	_, err := repo.Upsert(ctx, &device.DeviceToken{
		Token: token, UserID: "u1", Platform: device.PlatformIOS, CreatedAt: now, UpdatedAt: now,
	})
	require.NoError(t, err)
	addLegacyDoc(t, client, token, "u0", now)

	n, err := repo.DeleteByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, 0, countTokenDocs(t, client, token))

	n, err = repo.DeleteByToken(ctx, token)
	require.NoError(t, err)
	assert.Equal(t, 0, n)

	_, err = repo.Find(ctx, token)
	assert.ErrorIs(t, err, device.ErrTokenNotFound)
}

func TestFirestoreRepository_FindLegacyOnly(t *testing.T) {
	repo, client := newFirestoreRepository(t)
	token := uniqueToken()
	addLegacyDoc(t, client, token, "u9", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC))

	stored, err := repo.Find(context.Background(), token)
	require.NoError(t, err)
	assert.Equal(t, "u9", stored.UserID)
	assert.Equal(t, token, stored.Token)
}

func TestDocumentID_StablePerToken(t *testing.T) {
	a := device.DocumentID("token-a")
	assert.Len(t, a, 64)
	assert.Equal(t, a, device.DocumentID("token-a"))
	assert.NotEqual(t, a, device.DocumentID("token-b"))
}
