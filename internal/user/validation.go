package user

import (
	"net/mail"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hitoshi/minimalapi/internal/model"
)

const (
	// MaxNameLength は表示名の最大文字数。
	MaxNameLength = 255
	// MinPasswordLength はパスワードの最小文字数。
	MinPasswordLength = 8
	// maxPasswordBytes はbcryptが扱えるパスワードの最大バイト数。
	maxPasswordBytes = 72
)

// validateID はユーザーIDがUUID形式であることを検証する。
func validateID(id string) error {
	if strings.TrimSpace(id) == "" {
		return model.NewInvalidArgumentError("id", "required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return model.NewInvalidArgumentError("id", "must be a UUID")
	}
	return nil
}

// normalizeEmail はメールアドレスを検証し、小文字化した値を返す。
// 表示名付きの形式（"Alice <alice@example.com>"）は受け付けない。
func normalizeEmail(email string) (string, error) {
	trimmed := strings.TrimSpace(email)
	if trimmed == "" {
		return "", model.NewInvalidArgumentError("email", "required")
	}
	addr, err := mail.ParseAddress(trimmed)
	if err != nil || addr.Address != trimmed {
		return "", model.NewInvalidArgumentError("email", "invalid format")
	}
	return strings.ToLower(trimmed), nil
}

// validateName は表示名を検証する。nameはサニタイズ済みであること。
func validateName(name string) error {
	if name == "" {
		return model.NewInvalidArgumentError("name", "required")
	}
	if utf8.RuneCountInString(name) > MaxNameLength {
		return model.NewInvalidArgumentError("name", "too long")
	}
	return nil
}

func validatePassword(password string) error {
	if password == "" {
		return model.NewInvalidArgumentError("password", "required")
	}
	if utf8.RuneCountInString(password) < MinPasswordLength {
		return model.NewInvalidArgumentError("password", "too short")
	}
	if len(password) > maxPasswordBytes {
		return model.NewInvalidArgumentError("password", "too long")
	}
	return nil
}
