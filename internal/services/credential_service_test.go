package services

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/storage"
)

const slot = "gemini_api_key"

func TestCredentialEnvDefaultWins(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	require.NoError(t, store.Set(ctx, slot, "stored-key"))

	svc, err := NewCredentialService(ctx, store, slot, " env-key ", "")
	require.NoError(t, err)
	assert.Equal(t, models.Credential{APIKey: "env-key", Source: models.CredentialEnv}, svc.Current())
}

func TestCredentialFallsBackToStoredSlot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	svc, err := NewCredentialService(ctx, store, slot, "", "")
	require.NoError(t, err)
	assert.False(t, svc.Current().Present())
	assert.Equal(t, models.CredentialNone, svc.Status().Source)

	require.NoError(t, store.Set(ctx, slot, "stored-key"))
	svc, err = NewCredentialService(ctx, store, slot, "", "")
	require.NoError(t, err)
	assert.Equal(t, models.Credential{APIKey: "stored-key", Source: models.CredentialStored}, svc.Current())
}

func TestCredentialSetAndClear(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()
	svc, err := NewCredentialService(ctx, store, slot, "env-key", "")
	require.NoError(t, err)

	_, err = svc.Set(ctx, "  ")
	assert.True(t, apperrors.IsValidationError(err))
	assert.Equal(t, "env-key", svc.Current().APIKey)

	st, err := svc.Set(ctx, " AIzaSyUserProvidedKey ")
	require.NoError(t, err)
	assert.True(t, st.Configured)
	assert.Equal(t, models.CredentialUser, st.Source)
	assert.NotContains(t, st.Masked, "UserProvided")
	assert.Equal(t, "AIzaSyUserProvidedKey", svc.Current().APIKey)

	raw, err := store.Get(ctx, slot)
	require.NoError(t, err)
	assert.Equal(t, "AIzaSyUserProvidedKey", raw)

	st, err = svc.Clear(ctx)
	require.NoError(t, err)
	assert.Equal(t, models.CredentialEnv, st.Source)
	assert.Equal(t, "env-key", svc.Current().APIKey)

	_, err = store.Get(ctx, slot)
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

func TestCredentialClearWithoutEnv(t *testing.T) {
	ctx := context.Background()
	svc, err := NewCredentialService(ctx, storage.NewMemoryStorage(), slot, "", "")
	require.NoError(t, err)

	_, err = svc.Set(ctx, "user-key")
	require.NoError(t, err)

	st, err := svc.Clear(ctx)
	require.NoError(t, err)
	assert.False(t, st.Configured)
	assert.Equal(t, models.CredentialNone, st.Source)
}

func TestCredentialSealedSlot(t *testing.T) {
	ctx := context.Background()
	store := storage.NewMemoryStorage()

	svc, err := NewCredentialService(ctx, store, slot, "", "local-secret")
	require.NoError(t, err)
	_, err = svc.Set(ctx, "user-key")
	require.NoError(t, err)

	raw, err := store.Get(ctx, slot)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(raw, sealedPrefix))
	assert.NotContains(t, raw, "user-key")

	reloaded, err := NewCredentialService(ctx, store, slot, "", "local-secret")
	require.NoError(t, err)
	assert.Equal(t, models.Credential{APIKey: "user-key", Source: models.CredentialStored}, reloaded.Current())

	// 密钥不匹配时忽略已保存的值
	wrong, err := NewCredentialService(ctx, store, slot, "", "other-secret")
	require.NoError(t, err)
	assert.False(t, wrong.Current().Present())

	noSecret, err := NewCredentialService(ctx, store, slot, "", "")
	require.NoError(t, err)
	assert.False(t, noSecret.Current().Present())
}

func TestCredentialWithFileStore(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := storage.Open(storage.DriverFile, dir)
	require.NoError(t, err)
	svc, err := NewCredentialService(ctx, store, slot, "", "")
	require.NoError(t, err)
	_, err = svc.Set(ctx, "persisted-key")
	require.NoError(t, err)
	require.NoError(t, store.Close())

	store, err = storage.Open(storage.DriverFile, dir)
	require.NoError(t, err)
	defer store.Close()

	svc, err = NewCredentialService(ctx, store, slot, "", "")
	require.NoError(t, err)
	assert.Equal(t, "persisted-key", svc.Current().APIKey)
}
