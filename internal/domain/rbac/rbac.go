// Пакет rbac — определение роли субъекта по группам IdP.
// Роли упорядочены по привилегиям: member < readonly < admin < superuser.
// Итоговая роль — максимальная из всех совпавших групп.
package rbac

// Роли в порядке возрастания привилегий.
const (
	RoleMember    = "member"
	RoleReadonly  = "readonly"
	RoleAdmin     = "admin"
	RoleSuperuser = "superuser"
)

// roleWeight — вес роли для сравнения.
// Чем выше вес, тем больше привилегий.
var roleWeight = map[string]int{
	RoleMember:    1,
	RoleReadonly:  2,
	RoleAdmin:     3,
	RoleSuperuser: 4,
}

// GroupMapping — соответствие групп IdP ролям.
type GroupMapping struct {
	Member    []string
	Readonly  []string
	Admin     []string
	Superuser []string
}

// maxRole возвращает роль с максимальными привилегиями из двух.
func maxRole(a, b string) string {
	wa := roleWeight[a]
	wb := roleWeight[b]
	if wa >= wb {
		return a
	}
	return b
}

// HighestRole возвращает максимальную роль из набора.
// Если набор пуст — возвращает пустую строку.
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
// Если ни одна группа не совпала — возвращает пустую строку.
func MapGroupsToRole(groups []string, m GroupMapping) string {
	sets := []struct {
		role  string
		items map[string]bool
	}{
		{RoleSuperuser, toSet(m.Superuser)},
		{RoleAdmin, toSet(m.Admin)},
		{RoleReadonly, toSet(m.Readonly)},
		{RoleMember, toSet(m.Member)},
	}

	var roles []string
	for _, g := range groups {
		for _, s := range sets {
			if s.items[g] {
				roles = append(roles, s.role)
			}
		}
	}

	return HighestRole(roles)
}

// AtLeast проверяет, что роль role не ниже минимальной min.
// Пустая или неизвестная роль не удовлетворяет ни одному минимуму.
func AtLeast(role, min string) bool {
	w, ok := roleWeight[role]
	if !ok {
		return false
	}
	return w >= roleWeight[min]
}

// IsValidRole проверяет, является ли строка допустимой ролью.
func IsValidRole(role string) bool {
	_, ok := roleWeight[role]
	return ok
}

// toSet конвертирует срез строк в map для быстрого поиска.
func toSet(items []string) map[string]bool {
	s := make(map[string]bool, len(items))
	for _, item := range items {
		s[item] = true
	}
	return s
}
