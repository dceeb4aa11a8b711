package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/xaenox/expense-bot/internal/models"
	"github.com/xaenox/expense-bot/internal/storage"
)

// lookupUser finds an existing user by id or telegram id, id taking precedence.
func lookupUser(ctx context.Context, users storage.UserStorage, userID int64, telegramID string) (*models.User, error) {
	telegramID = strings.TrimSpace(telegramID)

	var (
		user *models.User
		err  error
	)
	switch {
	case userID < 0:
		return nil, validationError("user_id must be positive")
	case userID > 0:
		user, err = users.GetUserByID(ctx, userID)
	case telegramID != "":
		user, err = users.GetUserByTelegramID(ctx, telegramID)
	default:
		return nil, validationError("user_id or telegram_id is required")
	}

	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("lookup user: %w", err)
	}
	return user, nil
}
