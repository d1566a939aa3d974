package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/mail"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/bcrypt"

	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/storage/mirror"
)

// minPasswordLength: минимальная длина пароля пользователя.
const minPasswordLength = 8

// userRecord: пользователь вместе с хэшем пароля (только в файле).
type userRecord struct {
	model.User
	PasswordHash string `json:"password_hash"`
}

type usersDoc struct {
	Items    []userRecord       `json:"items"`
	Settings model.UserSettings `json:"settings"`
}

// UserInput: поля создаваемого пользователя.
type UserInput struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Role     string `json:"role"`
	Password string `json:"password"`
}

// UserPatch: изменяемые поля. nil: поле не меняется.
type UserPatch struct {
	Name   *string `json:"name,omitempty"`
	Role   *string `json:"role,omitempty"`
	Status *string `json:"status,omitempty"`
}

// UserService: пользователи админ-панели в users.json.
type UserService struct {
	file   *recordFile[usersDoc]
	cost   int
	now    func() time.Time
	logger *slog.Logger
}

// NewUserService создаёт сервис.
func NewUserService(store *mirror.Store, logger *slog.Logger) *UserService {
	return &UserService{
		file:   newRecordFile[usersDoc](store, UsersFile),
		cost:   bcrypt.DefaultCost,
		now:    time.Now,
		logger: logger.With(slog.String("service", "users")),
	}
}

// List возвращает пользователей без хэшей паролей и сводку.
func (s *UserService) List(_ context.Context) ([]model.User, model.UserSettings, error) {
	doc, err := s.file.read()
	if err != nil {
		return nil, model.UserSettings{}, err
	}
	out := make([]model.User, len(doc.Items))
	for i, rec := range doc.Items {
		out[i] = publicUser(rec)
	}
	return out, userSettings(doc.Items), nil
}

// Create добавляет пользователя. Email уникален без учёта регистра.
func (s *UserService) Create(_ context.Context, in UserInput) (*model.User, error) {
	email := strings.ToLower(strings.TrimSpace(in.Email))
	if email == "" || strings.TrimSpace(in.Name) == "" || in.Role == "" {
		return nil, fmt.Errorf("%w: email, name и role обязательны", ErrValidation)
	}
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: некорректный email", ErrValidation)
	}
	if !validRole(in.Role) {
		return nil, fmt.Errorf("%w: недопустимая role %q", ErrValidation, in.Role)
	}
	if len(in.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: пароль короче %d символов", ErrValidation, minPasswordLength)
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(in.Password), s.cost)
	if err != nil {
		return nil, fmt.Errorf("ошибка хэширования пароля: %w", err)
	}

	now := s.now().UTC()
	rec := userRecord{
		User: model.User{
			ID:        uuid.New().String(),
			Email:     email,
			Name:      strings.TrimSpace(in.Name),
			Role:      in.Role,
			Status:    model.UserActive,
			CreatedAt: now,
			UpdatedAt: now,
		},
		PasswordHash: string(hash),
	}

	err = s.file.update(func(doc *usersDoc) error {
		for _, u := range doc.Items {
			if u.Email == email {
				return fmt.Errorf("%w: пользователь %s уже существует", ErrConflict, email)
			}
		}
		doc.Items = append(doc.Items, rec)
		doc.Settings = userSettings(doc.Items)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Пользователь создан",
		slog.String("user_id", rec.ID),
		slog.String("role", rec.Role),
	)
	u := publicUser(rec)
	return &u, nil
}

// Update меняет имя, роль или статус пользователя.
func (s *UserService) Update(_ context.Context, id string, patch UserPatch) (*model.User, error) {
	if patch.Role != nil && !validRole(*patch.Role) {
		return nil, fmt.Errorf("%w: недопустимая role %q", ErrValidation, *patch.Role)
	}
	if patch.Status != nil && *patch.Status != model.UserActive && *patch.Status != model.UserDisabled {
		return nil, fmt.Errorf("%w: недопустимый status %q", ErrValidation, *patch.Status)
	}
	if patch.Name != nil && strings.TrimSpace(*patch.Name) == "" {
		return nil, fmt.Errorf("%w: name не может быть пустым", ErrValidation)
	}

	var updated model.User
	err := s.file.update(func(doc *usersDoc) error {
		for i := range doc.Items {
			rec := &doc.Items[i]
			if rec.ID != id {
				continue
			}
			if patch.Name != nil {
				rec.Name = strings.TrimSpace(*patch.Name)
			}
			if patch.Role != nil {
				rec.Role = *patch.Role
			}
			if patch.Status != nil {
				rec.Status = *patch.Status
			}
			rec.UpdatedAt = s.now().UTC()
			updated = publicUser(*rec)
			doc.Settings = userSettings(doc.Items)
			return nil
		}
		return fmt.Errorf("%w: пользователь %q", ErrNotFound, id)
	})
	if err != nil {
		return nil, err
	}
	return &updated, nil
}

// Authenticate проверяет пароль активного пользователя и отмечает вход.
func (s *UserService) Authenticate(_ context.Context, email, password string) (*model.User, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	var user model.User
	err := s.file.update(func(doc *usersDoc) error {
		for i := range doc.Items {
			rec := &doc.Items[i]
			if rec.Email != email {
				continue
			}
			if rec.Status != model.UserActive {
				return fmt.Errorf("%w: пользователь отключён", ErrForbidden)
			}
			if err := bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte(password)); err != nil {
				return fmt.Errorf("%w: неверные учётные данные", ErrForbidden)
			}
			now := s.now().UTC()
			rec.LastLoginAt = &now
			user = publicUser(*rec)
			return nil
		}
		return fmt.Errorf("%w: неверные учётные данные", ErrForbidden)
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// RoleOverride возвращает локальную роль активного пользователя с таким email.
// Если записи нет или пользователь отключён, возвращает nil, nil.
func (s *UserService) RoleOverride(_ context.Context, email string) (*string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" {
		return nil, nil
	}
	doc, err := s.file.read()
	if err != nil {
		return nil, err
	}
	for _, rec := range doc.Items {
		if rec.Email == email && rec.Status == model.UserActive {
			role := rec.Role
			return &role, nil
		}
	}
	return nil, nil
}

func validRole(role string) bool {
	return role == model.RoleAdmin || role == model.RoleEditor
}

func publicUser(rec userRecord) model.User {
	u := rec.User
	u.PasswordHash = ""
	return u
}

func userSettings(items []userRecord) model.UserSettings {
	st := model.UserSettings{
		Total:  len(items),
		ByRole: map[string]int{model.RoleAdmin: 0, model.RoleEditor: 0},
	}
	for _, u := range items {
		st.ByRole[u.Role]++
		if u.Status == model.UserActive {
			st.Active++
		} else {
			st.Disabled++
		}
	}
	return st
}
