// Пакет rbac: определение эффективной роли пользователя админ-панели.
// Роль из IdP (группы JWT) может быть повышена локальной записью в users.json,
// но не понижена.
package rbac

import "github.com/metricafm/metrica-cms/internal/domain/model"

// Роли в порядке возрастания привилегий.
const (
	RoleEditor = model.RoleEditor
	RoleAdmin  = model.RoleAdmin
)

var roleWeight = map[string]int{
	RoleEditor: 1,
	RoleAdmin:  2,
}

// EffectiveRole вычисляет итоговую роль = max(idpRole, roleOverride).
func EffectiveRole(idpRole string, roleOverride *string) string {
	if roleOverride == nil {
		return idpRole
	}
	return maxRole(idpRole, *roleOverride)
}

func maxRole(a, b string) string {
	if roleWeight[a] >= roleWeight[b] {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора или "".
func HighestRole(roles []string) string {
	if len(roles) == 0 {
		return ""
	}
	highest := roles[0]
	for _, r := range roles[1:] {
		highest = maxRole(highest, r)
	}
	return highest
}

// MapGroupsToRole определяет роль по группам IdP.
// Если ни одна группа не совпала, возвращает "".
func MapGroupsToRole(groups []string, adminGroups, editorGroups []string) string {
	adminSet := toSet(adminGroups)
	editorSet := toSet(editorGroups)

	var roles []string
	for _, g := range groups {
		if adminSet[g] {
			roles = append(roles, RoleAdmin)
		}
		if editorSet[g] {
			roles = append(roles, RoleEditor)
		}
	}
	return HighestRole(roles)
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
