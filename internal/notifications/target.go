package notifications

import (
	"fmt"
	"strings"
)

// TargetType is the wire tag of an audience descriptor.
type TargetType string

const (
	TargetAll  TargetType = "all"
	TargetRole TargetType = "role"
	TargetUser TargetType = "user"
)

// Target describes who a message is addressed to. The set of implementations
// is closed: AllTarget, RoleTarget and UserTarget.
type Target interface {
	Type() TargetType
	// Value is the wire value: the role, the user id, or "" for AllTarget.
	Value() string
	isTarget()
}

// AllTarget addresses every active user.
type AllTarget struct{}

// RoleTarget addresses every active user holding Role or one of its synonyms.
type RoleTarget struct {
	Role string
}

// UserTarget addresses a single existing user.
type UserTarget struct {
	UserID string
}

func (AllTarget) Type() TargetType  { return TargetAll }
func (RoleTarget) Type() TargetType { return TargetRole }
func (UserTarget) Type() TargetType { return TargetUser }

func (AllTarget) Value() string    { return "" }
func (t RoleTarget) Value() string { return t.Role }
func (t UserTarget) Value() string { return t.UserID }

func (AllTarget) isTarget()  {}
func (RoleTarget) isTarget() {}
func (UserTarget) isTarget() {}

// ParseTarget builds a Target from its wire form. The value is ignored for
// "all" and must be non-empty for "role" and "user".
func ParseTarget(targetType, value string) (Target, error) {
	value = strings.TrimSpace(value)
	switch TargetType(strings.ToLower(strings.TrimSpace(targetType))) {
	case TargetAll:
		return AllTarget{}, nil
	case TargetRole:
		if value == "" {
			return nil, fmt.Errorf("%w: role target requires a role", ErrInvalidTarget)
		}
		return RoleTarget{Role: value}, nil
	case TargetUser:
		if value == "" {
			return nil, fmt.Errorf("%w: user target requires a user id", ErrInvalidTarget)
		}
		return UserTarget{UserID: value}, nil
	default:
		return nil, fmt.Errorf("%w: unknown target type %q", ErrInvalidTarget, targetType)
	}
}
