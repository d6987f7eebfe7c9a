package tools

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrToolNotFound matches every *NotFoundError.
	ErrToolNotFound = errors.New("tools: tool not found")
	// ErrPermissionDenied matches every *PermissionDeniedError.
	ErrPermissionDenied = errors.New("tools: permission denied")
	// ErrInvalidDefinition is returned by Register for unusable definitions.
	ErrInvalidDefinition = errors.New("tools: invalid definition")
)

// NotFoundError indicates the requested tool is not registered or is
// disabled.
type NotFoundError struct {
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool not found: %s", e.Name)
}

func (e *NotFoundError) Is(target error) bool { return target == ErrToolNotFound }

// PermissionDeniedError indicates the session holds none of the roles the
// tool requires.
type PermissionDeniedError struct {
	Name          string
	RequiredRoles []string
}

func (e *PermissionDeniedError) Error() string {
	if len(e.RequiredRoles) == 0 {
		return fmt.Sprintf("permission denied for tool %s", e.Name)
	}
	return fmt.Sprintf("permission denied for tool %s: requires one of [%s]", e.Name, strings.Join(e.RequiredRoles, ", "))
}

func (e *PermissionDeniedError) Is(target error) bool { return target == ErrPermissionDenied }
