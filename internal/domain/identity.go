package domain

import "fmt"

// Identity: вызывающий, как его определил провайдер личности.
type Identity struct {
	UserID string
	Role   Role
}

func (i Identity) Valid() bool {
	return i.UserID != "" && i.Role.Valid()
}

func (i Identity) CanAccess(key ConversationKey) bool {
	return i.Valid() && key.ParticipantID(i.Role) == i.UserID
}

// Authorize: ErrForbidden, если вызывающий не участник переписки.
func (i Identity) Authorize(key ConversationKey) error {
	if !i.CanAccess(key) {
		return fmt.Errorf("%w: %s %q is not a participant of %s", ErrForbidden, i.Role, i.UserID, key)
	}
	return nil
}

// CheckSender сверяет роль, от имени которой клиент хочет писать, со своей.
// Пустая строка означает "своя роль". Регистр и пробелы не важны.
func (i Identity) CheckSender(claimed string) error {
	if claimed == "" {
		return nil
	}
	role, err := ParseRole(claimed)
	if err != nil {
		return err
	}
	if role != i.Role {
		return fmt.Errorf("%w: %s cannot send as %q", ErrForbidden, i.Role, claimed)
	}
	return nil
}
