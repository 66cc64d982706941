package http

import (
	"strings"

	"github.com/google/uuid"

	commonerrors "github.com/peerhub/peerhub/internal/common/errors"
)

func ValidateUUID(s string) error {
	if s == "" {
		return commonerrors.ErrEmptyUUID
	}
	_, err := uuid.Parse(s)
	return err
}

// ExtractUserIDFromPath pulls the trailing user id out of paths like
// /api/friends/requests/{id}.
func ExtractUserIDFromPath(path, prefix string) (string, bool) {
	if !strings.HasPrefix(path, prefix) {
		return "", false
	}

	remaining := strings.TrimPrefix(path, prefix)
	parts := strings.Split(remaining, "/")
	if len(parts) > 0 && parts[0] != "" {
		return parts[0], true
	}

	return "", false
}
