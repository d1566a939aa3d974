package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metricafm/metrica-cms/internal/domain/elements"
	"github.com/metricafm/metrica-cms/internal/domain/model"
)

// emptyPillars сбрасывает массив столпов страницы compromiso.
func emptyPillars(t *testing.T, env *testEnv) {
	t.Helper()
	_, err := env.pages.PutPage(context.Background(), "compromiso", model.PageContent{"pillars": []any{}}, "admin")
	require.NoError(t, err)
}

func orders(list []model.DynamicElement) []int {
	out := make([]int, len(list))
	for i, el := range list {
		out[i] = el.Order
	}
	return out
}

func TestPillarsScenario(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	emptyPillars(t, env)

	created, result, err := env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "planning", "title": "X"}, "admin")
	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.Equal(t, "planning", created.ID)
	assert.Equal(t, 1, created.Order)
	assert.True(t, created.Enabled)

	_, err = env.pages.DeleteElement(ctx, "pillars", "planning", "admin")
	require.NoError(t, err)
	list, err := env.pages.ListElements(ctx, "pillars")
	require.NoError(t, err)
	assert.Empty(t, list)

	_, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "a", "title": "A"}, "admin")
	require.NoError(t, err)
	_, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "b", "title": "B"}, "admin")
	require.NoError(t, err)
	_, err = env.pages.DeleteElement(ctx, "pillars", "a", "admin")
	require.NoError(t, err)

	list, err = env.pages.ListElements(ctx, "pillars")
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "b", list[0].ID)
	assert.Equal(t, 1, list[0].Order)
}

func TestCreateElement_Rules(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, _, err := env.pages.CreateElement(ctx, "statistics", map[string]any{"title": "Proyectos"}, "admin")
	assert.ErrorIs(t, err, ErrValidation, "value обязателен для statistics")

	_, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"title": "  "}, "admin")
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = env.pages.CreateElement(ctx, "unknown", map[string]any{"title": "x"}, "admin")
	assert.ErrorIs(t, err, ErrNotFound)

	emptyPillars(t, env)
	_, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "dup", "title": "A"}, "admin")
	require.NoError(t, err)
	_, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "dup", "title": "B"}, "admin")
	assert.ErrorIs(t, err, ErrConflict)

	// id из заголовка, при коллизии добавляется суффикс
	el, _, err := env.pages.CreateElement(ctx, "pillars", map[string]any{"title": "Gestión Ágil"}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "gestion-agil", el.ID)
	el, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"title": "Gestión Ágil"}, "admin")
	require.NoError(t, err)
	assert.NotEqual(t, "gestion-agil", el.ID)
	assert.Contains(t, el.ID, "gestion-agil-")

	// явный order не уникализируется
	el, _, err = env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "pinned", "title": "P", "order": 1}, "admin")
	require.NoError(t, err)
	assert.Equal(t, 1, el.Order)
}

func TestCreateElement_KeepsTypeSpecificFields(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	el, _, err := env.pages.CreateElement(ctx, "statistics", map[string]any{
		"id": "obras", "title": "Obras", "value": "120", "suffix": "+",
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "120", el.Extra["value"])

	list, err := env.pages.ListElements(ctx, "statistics")
	require.NoError(t, err)
	idx := elements.IndexOf(list, "obras")
	require.GreaterOrEqual(t, idx, 0)
	assert.Equal(t, "+", list[idx].Extra["suffix"])
}

func TestUpdateElement(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	emptyPillars(t, env)

	created, _, err := env.pages.CreateElement(ctx, "pillars", map[string]any{"id": "p1", "title": "Uno"}, "admin")
	require.NoError(t, err)

	updated, _, err := env.pages.UpdateElement(ctx, "pillars", "p1", map[string]any{
		"id": "otro", "title": "Uno bis", "enabled": false,
	}, "admin")
	require.NoError(t, err)
	assert.Equal(t, "p1", updated.ID)
	assert.Equal(t, "Uno bis", updated.Title)
	assert.False(t, updated.Enabled)
	assert.Equal(t, created.Order, updated.Order)
	assert.True(t, created.CreatedAt.Equal(updated.CreatedAt))

	_, _, err = env.pages.UpdateElement(ctx, "pillars", "p1", map[string]any{"title": ""}, "admin")
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = env.pages.UpdateElement(ctx, "pillars", "missing", map[string]any{"title": "x"}, "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReorderElements_DenseAndIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	emptyPillars(t, env)

	for _, id := range []string{"a", "b", "c"} {
		_, _, err := env.pages.CreateElement(ctx, "pillars", map[string]any{"id": id, "title": id}, "admin")
		require.NoError(t, err)
	}

	body := []map[string]any{{"id": "c"}, {"id": "a"}, {"id": "b"}}
	first, _, err := env.pages.ReorderElements(ctx, "pillars", body, "admin")
	require.NoError(t, err)
	second, _, err := env.pages.ReorderElements(ctx, "pillars", body, "admin")
	require.NoError(t, err)

	assert.Equal(t, []int{1, 2, 3}, orders(first))
	assert.Equal(t, orders(first), orders(second))
	assert.Equal(t, "c", second[0].ID)

	list, err := env.pages.ListElements(ctx, "pillars")
	require.NoError(t, err)
	assert.True(t, elements.IsDense(list))

	_, _, err = env.pages.ReorderElements(ctx, "pillars", body[:2], "admin")
	assert.ErrorIs(t, err, ErrValidation, "частичный порядок не поддерживается")

	_, _, err = env.pages.ReorderElements(ctx, "pillars", []map[string]any{{"id": "a"}, {"id": "a"}, {"id": "b"}}, "admin")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteElement_NotFound(t *testing.T) {
	env := newTestEnv(t)
	emptyPillars(t, env)

	_, err := env.pages.DeleteElement(context.Background(), "pillars", "ghost", "admin")
	assert.ErrorIs(t, err, ErrNotFound)
}
