package service

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestPreviews(t *testing.T) (*PreviewService, *time.Time) {
	t.Helper()
	svc, err := NewPreviewService(t.TempDir(), "https://metrica.pe/", DefaultPreviewTTL, testLogger())
	require.NoError(t, err)
	now := time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC)
	svc.SetClock(func() time.Time { return now })
	return svc, &now
}

func TestPreview_ExpiryBoundary(t *testing.T) {
	svc, now := newTestPreviews(t)
	ctx := context.Background()
	created := *now

	ref, err := svc.Create(ctx, "home", map[string]any{"hero": map[string]any{"title": "Borrador"}})
	require.NoError(t, err)
	assert.Equal(t, "https://metrica.pe/preview/"+ref.PreviewID, ref.PreviewURL)
	assert.True(t, ref.ExpiresAt.Equal(created.Add(10*time.Minute)))

	*now = created.Add(10 * time.Minute)
	payload := svc.Get(ctx, ref.PreviewID)
	require.NotNil(t, payload, "в момент T+10m предпросмотр ещё доступен")
	assert.Equal(t, "home", payload.Component)
	assert.True(t, payload.Timestamp.Equal(created))

	*now = created.Add(10*time.Minute + time.Nanosecond)
	assert.Nil(t, svc.Get(ctx, ref.PreviewID))
	_, err = os.Stat(svc.filePath(ref.PreviewID))
	assert.True(t, os.IsNotExist(err), "файл должен быть удалён после чтения просроченного")
}

func TestPreview_CoercesShape(t *testing.T) {
	svc, _ := newTestPreviews(t)
	ctx := context.Background()

	ref, err := svc.Create(ctx, "home", map[string]any{
		"hero":       map[string]any{"title": "Hola"},
		"statistics": "no es un arreglo",
		"custom":     42.0,
	})
	require.NoError(t, err)

	payload := svc.Get(ctx, ref.PreviewID)
	require.NotNil(t, payload)
	hero := payload.Data["hero"].(map[string]any)
	assert.Equal(t, "Hola", hero["title"])
	assert.Equal(t, "", hero["subtitle"])
	assert.Equal(t, []any{}, payload.Data["statistics"])
	assert.Equal(t, []any{}, payload.Data["clients"])
	assert.Equal(t, 42.0, payload.Data["custom"])

	ref, err = svc.Create(ctx, "blog", nil)
	require.NoError(t, err)
	payload = svc.Get(ctx, ref.PreviewID)
	require.NotNil(t, payload)
	assert.Equal(t, []any{}, payload.Data["posts"])
}

func TestPreview_UnknownComponent(t *testing.T) {
	svc, _ := newTestPreviews(t)

	_, err := svc.Create(context.Background(), "whistleblower", map[string]any{})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestPreview_InvalidAndCorrupt(t *testing.T) {
	svc, _ := newTestPreviews(t)
	ctx := context.Background()

	assert.Nil(t, svc.Get(ctx, "../../etc/passwd"))
	assert.Nil(t, svc.Get(ctx, "3b241101-e2bb-4255-8caf-4136c566a962"))

	id := "3b241101-e2bb-4255-8caf-4136c566a963"
	require.NoError(t, os.WriteFile(svc.filePath(id), []byte("{not json"), 0o600))
	assert.Nil(t, svc.Get(ctx, id))
	_, err := os.Stat(svc.filePath(id))
	assert.True(t, os.IsNotExist(err), "повреждённый файл должен быть удалён")
}

func TestPreviewSweeper_RemovesOnlyExpired(t *testing.T) {
	svc, now := newTestPreviews(t)
	ctx := context.Background()
	start := *now

	old, err := svc.Create(ctx, "services", nil)
	require.NoError(t, err)
	*now = start.Add(8 * time.Minute)
	fresh, err := svc.Create(ctx, "services", nil)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(svc.Dir(), "unrelated.txt"), []byte("x"), 0o600))

	*now = start.Add(11 * time.Minute)
	sweeper := NewPreviewSweeper(svc, time.Hour, testLogger())
	result := sweeper.RunOnce()

	assert.Equal(t, 2, result.Scanned)
	assert.Equal(t, 1, result.Removed)
	assert.Equal(t, 0, result.Errors)
	assert.Nil(t, svc.Get(ctx, old.PreviewID))
	assert.NotNil(t, svc.Get(ctx, fresh.PreviewID))
	_, err = os.Stat(filepath.Join(svc.Dir(), "unrelated.txt"))
	assert.NoError(t, err)
}

func TestPreviewSweeper_StartStop(t *testing.T) {
	svc, _ := newTestPreviews(t)
	sweeper := NewPreviewSweeper(svc, 10*time.Millisecond, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sweeper.Start(ctx)
	time.Sleep(30 * time.Millisecond)
	sweeper.Stop()
}
