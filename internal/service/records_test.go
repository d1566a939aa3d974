package service

import (
	"context"
	"encoding/json"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

func newAdminStore(t *testing.T) *mirror.Store {
	t.Helper()
	store, err := mirror.New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNotifications_Lifecycle(t *testing.T) {
	store := newAdminStore(t)
	svc := NewNotificationService(store, testLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, NotificationInput{Title: "Sin mensaje"})
	assert.ErrorIs(t, err, ErrValidation)

	a, err := svc.Create(ctx, NotificationInput{Title: "A", Message: "uno"})
	require.NoError(t, err)
	assert.Equal(t, model.NotificationUnread, a.Status)
	assert.Equal(t, "info", a.Type)
	b, err := svc.Create(ctx, NotificationInput{Title: "B", Message: "dos"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, NotificationInput{Title: "C", Message: "tres"})
	require.NoError(t, err)

	_, err = svc.SetStatus(ctx, b.ID, model.NotificationArchived)
	require.NoError(t, err)

	items, stats, err := svc.List(ctx, "")
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "C", items[0].Title, "новые первыми")
	assert.Equal(t, model.NotificationStats{Total: 3, Unread: 2, Archived: 1}, stats)

	n, err := svc.MarkAllRead(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.NoError(t, svc.Delete(ctx, a.ID))
	assert.ErrorIs(t, svc.Delete(ctx, a.ID), ErrNotFound)

	// сводка в файле пересчитана
	var doc notificationsDoc
	require.NoError(t, store.Read(NotificationsFile, &doc))
	assert.Equal(t, model.NotificationStats{Total: 2, Read: 1, Archived: 1}, doc.Stats)

	_, _, err = svc.List(ctx, "bogus")
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.SetStatus(ctx, "missing", model.NotificationRead)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestNotifications_ConcurrentCreates(t *testing.T) {
	svc := NewNotificationService(newAdminStore(t), testLogger())
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Create(ctx, NotificationInput{Title: "t", Message: "m"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	items, stats, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, items, 20)
	assert.Equal(t, 20, stats.Total)
}

func TestReports_TrackingAndTransitions(t *testing.T) {
	store := newAdminStore(t)
	notifications := NewNotificationService(store, testLogger())
	svc := NewReportService(store, notifications, testLogger())
	ctx := context.Background()

	_, err := svc.Create(ctx, ReportInput{Category: "fraude"})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Create(ctx, ReportInput{Category: "fraude", Description: "x", ContactEmail: "no-es-email"})
	assert.ErrorIs(t, err, ErrValidation)

	r, err := svc.Create(ctx, ReportInput{
		Category:     "fraude",
		Description:  "Sobreprecio en licitación",
		Anonymous:    true,
		ContactEmail: "quien@example.com",
	})
	require.NoError(t, err)
	assert.Regexp(t, regexp.MustCompile(`^WB-[A-Z2-9]{4}-[A-Z2-9]{4}$`), r.TrackingCode)
	assert.Empty(t, r.ContactEmail, "анонимное обращение не хранит контакт")
	assert.Equal(t, model.ReportReceived, r.Status)

	found, err := svc.GetByTrackingCode(ctx, strings.ToLower(r.TrackingCode))
	require.NoError(t, err)
	assert.Equal(t, r.ID, found.ID)

	_, err = svc.UpdateStatus(ctx, r.ID, model.ReportResolved, "")
	assert.ErrorIs(t, err, ErrConflict, "received → resolved минуя in_review")

	_, err = svc.UpdateStatus(ctx, r.ID, model.ReportInReview, "")
	require.NoError(t, err)
	done, err := svc.UpdateStatus(ctx, r.ID, model.ReportResolved, "Sancionado")
	require.NoError(t, err)
	assert.Equal(t, "Sancionado", done.Resolution)

	_, err = svc.UpdateStatus(ctx, r.ID, model.ReportDismissed, "")
	assert.ErrorIs(t, err, ErrConflict)
	_, err = svc.UpdateStatus(ctx, r.ID, "closed", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, stats, err := svc.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, model.ReportStats{Total: 1, Resolved: 1}, stats)

	// уведомление администраторам
	items, _, err := notifications.List(ctx, model.NotificationUnread)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "report", items[0].Type)

	_, err = svc.GetByTrackingCode(ctx, "WB-0000-0000")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_PasswordNeverSerialized(t *testing.T) {
	store := newAdminStore(t)
	svc := NewUserService(store, testLogger())
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	u, err := svc.Create(ctx, UserInput{Email: "Ana@Metrica.pe", Name: "Ana", Role: model.RoleAdmin, Password: "s3creto-largo"})
	require.NoError(t, err)
	assert.Equal(t, "ana@metrica.pe", u.Email)
	assert.Equal(t, model.UserActive, u.Status)

	out, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(out), "password")

	raw, err := store.ReadRaw(UsersFile)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"password_hash"`)
	assert.NotContains(t, string(raw), "s3creto-largo")

	_, err = svc.Create(ctx, UserInput{Email: "ana@metrica.pe", Name: "Otra", Role: model.RoleEditor, Password: "12345678"})
	assert.ErrorIs(t, err, ErrConflict)

	authed, err := svc.Authenticate(ctx, "ana@metrica.pe", "s3creto-largo")
	require.NoError(t, err)
	require.NotNil(t, authed.LastLoginAt)
	_, err = svc.Authenticate(ctx, "ana@metrica.pe", "incorrecto")
	assert.ErrorIs(t, err, ErrForbidden)
}

func TestUsers_UpdateAndSettings(t *testing.T) {
	svc := NewUserService(newAdminStore(t), testLogger())
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	tests := []struct {
		name string
		in   UserInput
	}{
		{"без email", UserInput{Name: "A", Role: model.RoleAdmin, Password: "12345678"}},
		{"некорректный email", UserInput{Email: "nope", Name: "A", Role: model.RoleAdmin, Password: "12345678"}},
		{"неизвестная роль", UserInput{Email: "a@b.pe", Name: "A", Role: "root", Password: "12345678"}},
		{"короткий пароль", UserInput{Email: "a@b.pe", Name: "A", Role: model.RoleAdmin, Password: "123"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, tt.in)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}

	editor, err := svc.Create(ctx, UserInput{Email: "luis@metrica.pe", Name: "Luis", Role: model.RoleEditor, Password: "12345678"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, UserInput{Email: "eva@metrica.pe", Name: "Eva", Role: model.RoleAdmin, Password: "12345678"})
	require.NoError(t, err)

	disabled := model.UserDisabled
	admin := model.RoleAdmin
	updated, err := svc.Update(ctx, editor.ID, UserPatch{Status: &disabled, Role: &admin})
	require.NoError(t, err)
	assert.Equal(t, model.UserDisabled, updated.Status)

	_, settings, err := svc.List(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, settings.Total)
	assert.Equal(t, 1, settings.Active)
	assert.Equal(t, 1, settings.Disabled)
	assert.Equal(t, map[string]int{model.RoleAdmin: 2, model.RoleEditor: 0}, settings.ByRole)

	_, err = svc.Authenticate(ctx, "luis@metrica.pe", "12345678")
	assert.ErrorIs(t, err, ErrForbidden, "отключённый пользователь не входит")

	bad := "superuser"
	_, err = svc.Update(ctx, editor.ID, UserPatch{Role: &bad})
	assert.ErrorIs(t, err, ErrValidation)
	_, err = svc.Update(ctx, "missing", UserPatch{})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestUsers_RoleOverride(t *testing.T) {
	svc := NewUserService(newAdminStore(t), testLogger())
	svc.cost = bcrypt.MinCost
	ctx := context.Background()

	role, err := svc.RoleOverride(ctx, "nadie@metrica.pe")
	require.NoError(t, err)
	assert.Nil(t, role, "пустой файл: нет override")

	u, err := svc.Create(ctx, UserInput{Email: "eva@metrica.pe", Name: "Eva", Role: model.RoleAdmin, Password: "12345678"})
	require.NoError(t, err)

	role, err = svc.RoleOverride(ctx, " EVA@metrica.pe ")
	require.NoError(t, err)
	require.NotNil(t, role)
	assert.Equal(t, model.RoleAdmin, *role)

	disabled := model.UserDisabled
	_, err = svc.Update(ctx, u.ID, UserPatch{Status: &disabled})
	require.NoError(t, err)
	role, err = svc.RoleOverride(ctx, "eva@metrica.pe")
	require.NoError(t, err)
	assert.Nil(t, role, "отключённый пользователь не даёт роль")
}
