package domain

// AdminSet хранит множество пользователей с правами администратора бота.
type AdminSet map[int64]struct{}

// NewAdminSet строит множество из списка идентификаторов.
func NewAdminSet(ids []int64) AdminSet {
	set := make(AdminSet, len(ids))
	for _, id := range ids {
		if id == 0 {
			continue
		}
		set[id] = struct{}{}
	}
	return set
}

// IsAdmin сообщает, является ли пользователь администратором.
func (s AdminSet) IsAdmin(userID int64) bool {
	if len(s) == 0 {
		return false
	}
	_, ok := s[userID]
	return ok
}
