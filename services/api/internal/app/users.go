package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"wellnest/internal/util"
	"wellnest/pkg/auth"
	"wellnest/pkg/domain"
	"wellnest/pkg/storage"
	"wellnest/pkg/store"
)

// dummyHash is compared against when the email is unknown so both login
// failures cost one bcrypt comparison.
var dummyHash = sync.OnceValue(func() string {
	h, _ := auth.HashPassword("wellnest-unknown-account")
	return h
})

// ProfileUpdate carries the optional fields of a profile update. Nil fields
// are left untouched.
type ProfileUpdate struct {
	Name           *string
	IsPremium      *bool
	ProfilePicture *string
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}

// SignUp registers a new user and issues a session token.
func (a *App) SignUp(ctx context.Context, email, password, name string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	exists, err := a.store.HasUserEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("check email: %w", err)
	}
	if exists {
		return domain.User{}, "", ErrEmailAlreadyExists
	}
	passwordHash, err := auth.HashPassword(password)
	if err != nil {
		if errors.Is(err, auth.ErrPasswordTooLong) {
			return domain.User{}, "", ErrPasswordTooLong
		}
		return domain.User{}, "", fmt.Errorf("hash password: %w", err)
	}
	now := a.now()
	user := domain.User{
		ID:           util.NewTimeID("user"),
		Email:        email,
		PasswordHash: passwordHash,
		Name:         strings.TrimSpace(name),
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := a.store.CreateUser(ctx, user); err != nil {
		if errors.Is(err, store.ErrDuplicateEmail) {
			return domain.User{}, "", ErrEmailAlreadyExists
		}
		return domain.User{}, "", fmt.Errorf("create user: %w", err)
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// Login validates credentials and issues a session token.
func (a *App) Login(ctx context.Context, email, password string) (domain.User, string, error) {
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return domain.User{}, "", ErrEmailAndPasswordRequired
	}
	user, ok, err := a.store.GetUserByEmail(ctx, email)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		auth.CheckPassword(password, dummyHash())
		return domain.User{}, "", ErrInvalidCredentials
	}
	if !auth.CheckPassword(password, user.PasswordHash) {
		return domain.User{}, "", ErrInvalidCredentials
	}
	token, err := a.sessions.NewSession(user.ID)
	if err != nil {
		return domain.User{}, "", fmt.Errorf("issue token: %w", err)
	}
	return user, token, nil
}

// UserIDFromToken verifies a bearer token and returns its subject.
func (a *App) UserIDFromToken(ctx context.Context, token string) (string, error) {
	if strings.TrimSpace(token) == "" {
		return "", ErrUnauthorized
	}
	uid, ok, err := a.sessions.GetUserIDByToken(ctx, token)
	if err != nil {
		if errors.Is(err, store.ErrInvalidToken) || errors.Is(err, store.ErrTokenRevoked) {
			return "", ErrUnauthorized
		}
		return "", fmt.Errorf("verify token: %w", err)
	}
	if !ok || uid == "" {
		return "", ErrUnauthorized
	}
	return uid, nil
}

// Logout revokes the presented token until it would have expired.
func (a *App) Logout(ctx context.Context, token string) error {
	if err := a.sessions.DeleteSession(ctx, token); err != nil {
		return fmt.Errorf("revoke token: %w", err)
	}
	return nil
}

// GetUser returns the account for userID.
func (a *App) GetUser(ctx context.Context, userID string) (domain.User, error) {
	user, ok, err := a.store.GetUserByID(ctx, userID)
	if err != nil {
		return domain.User{}, fmt.Errorf("fetch user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}

// UpdateProfile applies the present fields of upd. A data: URL profile
// picture is uploaded first when an avatar store is configured.
func (a *App) UpdateProfile(ctx context.Context, userID string, upd ProfileUpdate) (domain.User, error) {
	patch := store.UserPatch{Name: upd.Name, IsPremium: upd.IsPremium, ProfilePicture: upd.ProfilePicture}
	if upd.ProfilePicture != nil && a.avatars != nil && storage.IsImageDataURL(*upd.ProfilePicture) {
		if _, err := a.GetUser(ctx, userID); err != nil {
			return domain.User{}, err
		}
		url, err := a.avatars.Upload(ctx, userID, *upd.ProfilePicture)
		if err != nil {
			if errors.Is(err, storage.ErrInvalidImage) {
				return domain.User{}, ErrInvalidProfilePicture
			}
			return domain.User{}, fmt.Errorf("upload profile picture: %w", err)
		}
		patch.ProfilePicture = &url
	}
	user, ok, err := a.store.UpdateUser(ctx, userID, patch)
	if err != nil {
		return domain.User{}, fmt.Errorf("update user: %w", err)
	}
	if !ok {
		return domain.User{}, ErrUserNotFound
	}
	return user, nil
}
