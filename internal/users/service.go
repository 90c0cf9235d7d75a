package users

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"

	"github.com/flood-relief/flood_relief/internal/apperr"
	"github.com/flood-relief/flood_relief/internal/auth"
	"github.com/flood-relief/flood_relief/internal/logging"
	"github.com/flood-relief/flood_relief/internal/notification"
)

const (
	msgCredentialsRequired = "Username and password are required"
	msgUsernameTaken       = "Username already exists"
	msgInvalidCredentials  = "Invalid username or password"
	msgNoToken             = "No token provided"
	msgUnauthorized        = "Unauthorized"
	msgNotFound            = "User not found"
	msgNoFields            = "No fields to update"
)

// Tokens issues and verifies bearer tokens carrying a user id.
type Tokens interface {
	Issue(userID int64) (string, error)
	Verify(token string) (int64, error)
}

// Deps groups the collaborators of Service. Cache and Notifier are optional.
type Deps struct {
	Repo     Repository
	Hasher   auth.Hasher
	Tokens   Tokens
	Cache    ListingCache
	Notifier notification.Notifier
	Logger   *slog.Logger
}

// Service implements account signup, signin and self-service profile management.
type Service struct {
	repo     Repository
	hasher   auth.Hasher
	tokens   Tokens
	cache    ListingCache
	notifier notification.Notifier
	logger   *slog.Logger
}

// NewService wires a Service from its dependencies.
func NewService(d Deps) *Service {
	logger := d.Logger
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		repo:     d.Repo,
		hasher:   d.Hasher,
		tokens:   d.Tokens,
		cache:    d.Cache,
		notifier: d.Notifier,
		logger:   logger,
	}
}

// Signup creates an account. No token is issued; the caller signs in separately.
func (s *Service) Signup(ctx context.Context, in SignupInput) (User, error) {
	if in.Username == "" || in.Password == "" {
		return User{}, apperr.BadRequest(msgCredentialsRequired)
	}

	_, err := s.repo.FindByUsername(ctx, in.Username)
	switch {
	case err == nil:
		return User{}, apperr.Conflict(msgUsernameTaken)
	case !errors.Is(err, ErrNotFound):
		return User{}, s.internal(ctx, "signup.lookup", err)
	}

	digest, err := s.hasher.Hash(in.Password)
	if err != nil {
		return User{}, s.internal(ctx, "signup.hash", err)
	}

	user, err := s.repo.Create(ctx, User{
		Username:     in.Username,
		PasswordHash: digest,
		Name:         in.Name,
		Address:      in.Address,
		Telephone:    in.Telephone,
		Help:         in.Help,
	})
	if errors.Is(err, ErrUsernameTaken) {
		return User{}, apperr.Conflict(msgUsernameTaken)
	}
	if err != nil {
		return User{}, s.internal(ctx, "signup.create", err)
	}

	s.logger.InfoContext(ctx, "user signed up", slog.Int64("user_id", user.ID))
	if user.Help {
		s.invalidateListing(ctx)
		s.notifyHelp(ctx, user.ID)
	}
	return user, nil
}

// Signin checks credentials and returns a signed token. Unknown usernames and
// wrong passwords fail identically.
func (s *Service) Signin(ctx context.Context, username, password string) (string, error) {
	user, err := s.repo.FindByUsername(ctx, username)
	if errors.Is(err, ErrNotFound) {
		return "", apperr.Unauthorized(msgInvalidCredentials)
	}
	if err != nil {
		return "", s.internal(ctx, "signin.lookup", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		return "", apperr.Unauthorized(msgInvalidCredentials)
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return "", s.internal(ctx, "signin.issue", err)
	}
	return token, nil
}

// Authenticate resolves a presented token to a user id. A missing token is
// Forbidden; any invalid token is Unauthorized.
func (s *Service) Authenticate(token string) (int64, error) {
	if token == "" {
		return 0, apperr.Forbidden(msgNoToken)
	}
	id, err := s.tokens.Verify(token)
	if err != nil {
		return 0, apperr.Unauthorized(msgUnauthorized)
	}
	return id, nil
}

// Profile returns the caller's own record without the password digest.
func (s *Service) Profile(ctx context.Context, id int64) (Profile, error) {
	user, err := s.repo.FindByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return Profile{}, apperr.NotFound(msgNotFound)
	}
	if err != nil {
		return Profile{}, s.internal(ctx, "profile.get", err)
	}
	return user.profile(), nil
}

// UpdateProfile applies the provided fields in one write. A new password is
// re-hashed before it is stored.
func (s *Service) UpdateProfile(ctx context.Context, id int64, in UpdateInput) error {
	var changes Changes
	if in.Password != "" {
		digest, err := s.hasher.Hash(in.Password)
		if err != nil {
			return s.internal(ctx, "profile.update.hash", err)
		}
		changes.PasswordHash = &digest
	}
	if in.Name != "" {
		changes.Name = &in.Name
	}
	if in.Address != "" {
		changes.Address = &in.Address
	}
	if in.Telephone != "" {
		changes.Telephone = &in.Telephone
	}
	if in.Help != nil {
		help := *in.Help
		changes.Help = &help
	}
	if changes.Empty() {
		return apperr.BadRequest(msgNoFields)
	}

	err := s.repo.Update(ctx, id, changes)
	if errors.Is(err, ErrNotFound) {
		// The account was deleted while the token was still live; nothing to write.
		s.logger.WarnContext(ctx, "profile update for missing user", slog.Int64("user_id", id))
		return nil
	}
	if err != nil {
		return s.internal(ctx, "profile.update", err)
	}

	if changes.touchesListing() {
		s.invalidateListing(ctx)
	}
	if changes.Help != nil && *changes.Help {
		s.notifyHelp(ctx, id)
	}
	return nil
}

// DeleteAccount removes the caller's record. Deleting an already removed
// account succeeds.
func (s *Service) DeleteAccount(ctx context.Context, id int64) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return s.internal(ctx, "account.delete", err)
	}
	s.logger.InfoContext(ctx, "account deleted", slog.Int64("user_id", id))
	s.invalidateListing(ctx)
	return nil
}

// ListNeedingHelp returns every resident flagged as needing help. Cache
// failures degrade to a store read and never fail the call.
func (s *Service) ListNeedingHelp(ctx context.Context) ([]HelpRequest, error) {
	cacheable := false
	var generation int64
	if s.cache != nil {
		list, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "listing cache read failed", slog.Any("error", err))
		}
		if ok {
			return list, nil
		}
		// The generation must be read before the store so a concurrent
		// invalidation turns the refill below into a no-op.
		generation, err = s.cache.Generation(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "listing cache generation read failed", slog.Any("error", err))
		} else {
			cacheable = true
		}
	}

	list, err := s.repo.ListNeedingHelp(ctx)
	if err != nil {
		return nil, s.internal(ctx, "listing.get", err)
	}
	if list == nil {
		list = []HelpRequest{}
	}

	if cacheable {
		stored, err := s.cache.Set(ctx, generation, list)
		if err != nil {
			s.logger.WarnContext(ctx, "listing cache write failed", slog.Any("error", err))
		} else if !stored {
			s.logger.DebugContext(ctx, "listing cache refill skipped, listing changed during read")
		}
	}
	return list, nil
}

func (s *Service) invalidateListing(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "listing cache invalidation failed", slog.Any("error", err))
	}
}

func (s *Service) notifyHelp(ctx context.Context, id int64) {
	if s.notifier == nil {
		return
	}
	msg := notification.Message{
		Kind:        notification.KindNeedsHelp,
		Destination: "user:" + strconv.FormatInt(id, 10),
		Body:        fmt.Sprintf("resident %d requested help", id),
	}
	if err := s.notifier.Send(ctx, msg); err != nil {
		s.logger.WarnContext(ctx, "help notification failed", slog.Int64("user_id", id), slog.Any("error", err))
	}
}

// internal logs err with the failing operation and hides it behind the
// generic message.
func (s *Service) internal(ctx context.Context, op string, err error) error {
	s.logger.ErrorContext(ctx, "users operation failed", slog.String("op", op), slog.Any("error", err))
	return apperr.Internal(fmt.Errorf("%s: %w", op, err))
}
