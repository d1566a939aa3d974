// auth.go: аутентификация и авторизация админ-API.
// Основной путь: Bearer JWT, подпись проверяется через JWKS IdP, группы маппятся в роли
// admin/editor, локальная запись users.json может роль повысить.
// Дополнительно: Basic-аутентификация по users.json (когда IdP не используется).
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/metricafm/metrica-cms/internal/api/errors"
	"github.com/metricafm/metrica-cms/internal/domain/model"
	"github.com/metricafm/metrica-cms/internal/domain/rbac"
	"github.com/metricafm/metrica-cms/internal/service"
)

// contextKey: тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeyClaims: извлечённые claims в контексте запроса.
	ContextKeyClaims contextKey = "auth_claims"
)

// AuthMethod: способ, которым субъект прошёл аутентификацию.
type AuthMethod string

const (
	// AuthMethodJWT: Bearer JWT от IdP.
	AuthMethodJWT AuthMethod = "jwt"
	// AuthMethodBasic: email и пароль из users.json.
	AuthMethodBasic AuthMethod = "basic"
	// AuthMethodAnonymous: режим разработки без IdP и без заголовка.
	AuthMethodAnonymous AuthMethod = "anonymous"
)

// anonymousSubject: субъект режима разработки.
const anonymousSubject = "dev"

// AuthClaims: субъект запроса и его роль.
type AuthClaims struct {
	// Subject: sub из JWT или id пользователя users.json.
	Subject string
	// PreferredUsername: preferred_username из JWT.
	PreferredUsername string
	// Email: email из JWT или users.json.
	Email string
	// Groups: группы из JWT.
	Groups []string
	// Roles: роли из realm_access.roles.
	Roles []string
	// IdpRole: роль, вычисленная из групп IdP (admin, editor, "").
	IdpRole string
	// RoleOverride: роль из users.json (может быть nil).
	RoleOverride *string
	// EffectiveRole: итоговая роль = max(IdpRole, RoleOverride).
	EffectiveRole string
	// Method: способ аутентификации.
	Method AuthMethod
}

// HasAnyRole проверяет, совпадает ли effective роль с одной из указанных.
func (c *AuthClaims) HasAnyRole(roles ...string) bool {
	for _, r := range roles {
		if c.EffectiveRole == r {
			return true
		}
	}
	return false
}

// Actor возвращает имя субъекта для журнала аудита.
func (c *AuthClaims) Actor() string {
	switch {
	case c.Email != "":
		return c.Email
	case c.PreferredUsername != "":
		return c.PreferredUsername
	default:
		return c.Subject
	}
}

// RoleOverrideProvider: источник локального повышения роли.
// Реализуется service.UserService.
type RoleOverrideProvider interface {
	// RoleOverride возвращает роль по email. Если записи нет: nil, nil.
	RoleOverride(ctx context.Context, email string) (*string, error)
}

// PasswordAuthenticator: проверка email и пароля.
// Реализуется service.UserService.
type PasswordAuthenticator interface {
	Authenticate(ctx context.Context, email, password string) (*model.User, error)
}

// idpClaims: raw claims JWT для парсинга.
type idpClaims struct {
	jwt.RegisteredClaims
	PreferredUsername string       `json:"preferred_username"`
	Email             string       `json:"email"`
	RealmAccess       *realmAccess `json:"realm_access,omitempty"`
	Groups            []string     `json:"groups,omitempty"`
}

// realmAccess: вложенная структура realm_access.
type realmAccess struct {
	Roles []string `json:"roles"`
}

// JWTAuth: middleware аутентификации админ-API.
type JWTAuth struct {
	// jwks: nil, если IdP не настроен.
	jwks           keyfunc.Keyfunc
	passwords      PasswordAuthenticator
	roleProvider   RoleOverrideProvider
	allowAnonymous bool
	adminGroups    []string
	editorGroups   []string
	issuer         string
	jwtLeeway      time.Duration
	logger         *slog.Logger
}

// NewJWTAuth создаёт middleware с JWKS IdP.
// jwksURL: URL JWKS endpoint; issuer: ожидаемый iss (пустой: не проверяется).
// roleProvider может быть nil.
func NewJWTAuth(
	jwksURL string,
	issuer string,
	roleProvider RoleOverrideProvider,
	adminGroups, editorGroups []string,
	jwksClientTimeout time.Duration,
	jwksRefreshInterval time.Duration,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) (*JWTAuth, error) {
	// NoErrorReturnFirstHTTPReq: стартуем даже если IdP ещё недоступен.
	storage, err := jwkset.NewStorageFromHTTP(jwksURL, jwkset.HTTPClientStorageOptions{
		Client:                    &http.Client{Timeout: jwksClientTimeout},
		NoErrorReturnFirstHTTPReq: true,
		RefreshInterval:           jwksRefreshInterval,
		RefreshErrorHandler: func(_ context.Context, err error) {
			logger.Error("Ошибка обновления JWKS",
				slog.String("error", err.Error()),
				slog.String("url", jwksURL),
			)
		},
	})
	if err != nil {
		return nil, fmt.Errorf("создание JWKS storage: %w", err)
	}

	k, err := keyfunc.New(keyfunc.Options{
		Storage: storage,
	})
	if err != nil {
		return nil, fmt.Errorf("создание keyfunc: %w", err)
	}

	a := NewJWTAuthWithKeyfunc(k, issuer, roleProvider, adminGroups, editorGroups, logger)
	a.jwtLeeway = jwtLeeway
	return a, nil
}

// NewJWTAuthWithKeyfunc создаёт middleware с готовой keyfunc.
// Используется в тестах для подстановки JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	issuer string,
	roleProvider RoleOverrideProvider,
	adminGroups, editorGroups []string,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		jwks:         kf,
		roleProvider: roleProvider,
		adminGroups:  adminGroups,
		editorGroups: editorGroups,
		issuer:       issuer,
		logger:       logger.With(slog.String("component", "auth")),
	}
}

// NewLocalAuth создаёт middleware без IdP: только Basic по users.json.
// allowAnonymous пропускает запросы без заголовка Authorization с ролью admin
// (только для окружения development).
func NewLocalAuth(passwords PasswordAuthenticator, allowAnonymous bool, logger *slog.Logger) *JWTAuth {
	return &JWTAuth{
		passwords:      passwords,
		allowAnonymous: allowAnonymous,
		logger:         logger.With(slog.String("component", "auth")),
	}
}

// WithPasswordFallback разрешает Basic-аутентификацию по users.json
// наряду с JWT.
func (j *JWTAuth) WithPasswordFallback(p PasswordAuthenticator) *JWTAuth {
	j.passwords = p
	return j
}

// Middleware возвращает HTTP middleware аутентификации.
// Claims помещаются в контекст под ContextKeyClaims.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				if j.allowAnonymous {
					next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), anonymousClaims())))
					return
				}
				apierrors.Unauthorized(w, "Отсутствует заголовок Authorization")
				return
			}

			scheme, credentials, _ := strings.Cut(authHeader, " ")
			var (
				claims *AuthClaims
				msg    string
			)
			switch {
			case strings.EqualFold(scheme, "Bearer") && j.jwks != nil:
				claims, msg = j.authenticateBearer(r, strings.TrimSpace(credentials))
			case strings.EqualFold(scheme, "Basic") && j.passwords != nil:
				claims, msg = j.authenticateBasic(r)
			default:
				msg = "Неподдерживаемая схема Authorization"
			}
			if claims == nil {
				apierrors.Unauthorized(w, msg)
				return
			}

			next.ServeHTTP(w, r.WithContext(withClaims(r.Context(), claims)))
		})
	}
}

// authenticateBearer проверяет JWT. При ошибке возвращает nil и сообщение для клиента.
func (j *JWTAuth) authenticateBearer(r *http.Request, tokenString string) (*AuthClaims, string) {
	if tokenString == "" {
		return nil, "Пустой Bearer token"
	}

	rawClaims := &idpClaims{}
	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{"RS256"}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.jwtLeeway),
	}
	if j.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(j.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, rawClaims, j.jwks.KeyfuncCtx(r.Context()), parserOpts...)
	if err != nil || !token.Valid {
		j.logger.Debug("JWT валидация не пройдена",
			slog.Any("error", err),
			slog.String("remote_addr", r.RemoteAddr),
		)
		return nil, "Невалидный или просроченный токен"
	}

	if rawClaims.Subject == "" {
		return nil, "Отсутствует sub в токене"
	}

	return j.buildAuthClaims(r.Context(), rawClaims), ""
}

// buildAuthClaims маппит группы в роль и применяет локальное повышение.
func (j *JWTAuth) buildAuthClaims(ctx context.Context, raw *idpClaims) *AuthClaims {
	claims := &AuthClaims{
		Subject:           raw.Subject,
		PreferredUsername: raw.PreferredUsername,
		Email:             raw.Email,
		Groups:            raw.Groups,
		Method:            AuthMethodJWT,
	}
	if raw.RealmAccess != nil {
		claims.Roles = raw.RealmAccess.Roles
	}

	claims.IdpRole = rbac.MapGroupsToRole(claims.Groups, j.adminGroups, j.editorGroups)

	// Если роль не определена через группы, пробуем realm_access.roles
	if claims.IdpRole == "" && len(claims.Roles) > 0 {
		var mapped []string
		for _, r := range claims.Roles {
			if rbac.IsValidRole(r) {
				mapped = append(mapped, r)
			}
		}
		claims.IdpRole = rbac.HighestRole(mapped)
	}

	if j.roleProvider != nil && claims.Email != "" {
		override, err := j.roleProvider.RoleOverride(ctx, claims.Email)
		if err != nil {
			j.logger.Warn("Ошибка получения локальной роли",
				slog.String("email", claims.Email),
				slog.String("error", err.Error()),
			)
		} else {
			claims.RoleOverride = override
		}
	}

	claims.EffectiveRole = rbac.EffectiveRole(claims.IdpRole, claims.RoleOverride)
	return claims
}

// authenticateBasic проверяет email и пароль по users.json.
func (j *JWTAuth) authenticateBasic(r *http.Request) (*AuthClaims, string) {
	email, password, ok := r.BasicAuth()
	if !ok || email == "" {
		return nil, "Некорректные Basic-учётные данные"
	}

	user, err := j.passwords.Authenticate(r.Context(), email, password)
	if err != nil {
		if !errors.Is(err, service.ErrForbidden) {
			j.logger.Error("Ошибка проверки пароля", slog.String("error", err.Error()))
		}
		return nil, "Неверные учётные данные"
	}

	role := user.Role
	return &AuthClaims{
		Subject:       user.ID,
		Email:         user.Email,
		RoleOverride:  &role,
		EffectiveRole: role,
		Method:        AuthMethodBasic,
	}, ""
}

func anonymousClaims() *AuthClaims {
	return &AuthClaims{
		Subject:       anonymousSubject,
		EffectiveRole: rbac.RoleAdmin,
		Method:        AuthMethodAnonymous,
	}
}

func withClaims(ctx context.Context, claims *AuthClaims) context.Context {
	return context.WithValue(ctx, ContextKeyClaims, claims)
}

// --- RBAC middleware ---

// RequireRole возвращает middleware, требующий одну из указанных ролей.
// Должен использоваться после JWTAuth.Middleware().
func RequireRole(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims := ClaimsFromContext(r.Context())
			if claims == nil {
				apierrors.Unauthorized(w, "Отсутствуют claims в контексте")
				return
			}

			if !claims.HasAnyRole(roles...) {
				apierrors.Forbidden(w, fmt.Sprintf("Недостаточно прав: требуется роль %s", strings.Join(roles, " или ")))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// --- Context helpers ---

// ClaimsFromContext извлекает AuthClaims из контекста. nil, если их нет.
func ClaimsFromContext(ctx context.Context) *AuthClaims {
	claims, _ := ctx.Value(ContextKeyClaims).(*AuthClaims)
	return claims
}

// ActorFromContext возвращает имя субъекта для аудита или "anonymous".
func ActorFromContext(ctx context.Context) string {
	claims := ClaimsFromContext(ctx)
	if claims == nil {
		return "anonymous"
	}
	return claims.Actor()
}
