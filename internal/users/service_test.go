package users

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/flood-relief/flood_relief/internal/apperr"
	"github.com/flood-relief/flood_relief/internal/auth"
	"github.com/flood-relief/flood_relief/internal/notification"
)

type recordingNotifier struct {
	mu   sync.Mutex
	sent []notification.Message
}

func (n *recordingNotifier) Send(_ context.Context, m notification.Message) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sent = append(n.sent, m)
	return nil
}

type fixture struct {
	svc      *Service
	repo     Repository
	tokens   *auth.TokenManager
	notifier *recordingNotifier
}

func newFixture(t *testing.T, opts ...func(*Deps)) fixture {
	t.Helper()
	hasher, err := auth.NewBcryptHasher(bcrypt.MinCost)
	require.NoError(t, err)
	tokens, err := auth.NewTokenManager("test-secret", time.Hour)
	require.NoError(t, err)

	f := fixture{repo: NewMemoryRepository(), tokens: tokens, notifier: &recordingNotifier{}}
	d := Deps{Repo: f.repo, Hasher: hasher, Tokens: tokens, Notifier: f.notifier}
	for _, opt := range opts {
		opt(&d)
	}
	f.repo = d.Repo
	f.svc = NewService(d)
	return f
}

func alice() SignupInput {
	return SignupInput{Username: "alice", Password: "pw1", Name: "Alice", Address: "1 River Rd", Telephone: "555-0100"}
}

func TestSignupOnceThenConflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)
	assert.Positive(t, user.ID)

	_, err = f.svc.Signup(ctx, alice())
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindConflict))
	assert.Equal(t, "Username already exists", apperr.Message(err))
}

func TestSignupRequiresCredentials(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Signup(context.Background(), SignupInput{Username: "bob"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))

	_, err = f.svc.Signup(context.Background(), SignupInput{Password: "pw"})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
}

func TestSignupStoresDigestNotPlaintext(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	stored, err := f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.NotEqual(t, "pw1", stored.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(stored.PasswordHash), []byte("pw1")))
}

// raceRepo simulates a concurrent signup winning between the lookup and the insert.
type raceRepo struct {
	Repository
}

func (raceRepo) FindByUsername(context.Context, string) (User, error) {
	return User{}, ErrNotFound
}

func (raceRepo) Create(context.Context, User) (User, error) {
	return User{}, ErrUsernameTaken
}

func TestSignupConstraintViolationIsConflict(t *testing.T) {
	f := newFixture(t, func(d *Deps) { d.Repo = raceRepo{Repository: d.Repo} })

	_, err := f.svc.Signup(context.Background(), alice())
	assert.True(t, apperr.Is(err, apperr.KindConflict))
}

func TestSigninIssuesTokenForIdentity(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	token, err := f.svc.Signin(ctx, "alice", "pw1")
	require.NoError(t, err)

	id, err := f.tokens.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, id)
}

func TestSigninFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	_, wrongPassword := f.svc.Signin(ctx, "alice", "nope")
	_, unknownUser := f.svc.Signin(ctx, "mallory", "pw1")

	require.Error(t, wrongPassword)
	require.Error(t, unknownUser)
	assert.True(t, apperr.Is(wrongPassword, apperr.KindUnauthorized))
	assert.True(t, apperr.Is(unknownUser, apperr.KindUnauthorized))
	assert.Equal(t, apperr.Message(wrongPassword), apperr.Message(unknownUser))
	assert.Equal(t, "Invalid username or password", apperr.Message(unknownUser))
}

func TestAuthenticate(t *testing.T) {
	f := newFixture(t)

	_, err := f.svc.Authenticate("")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.Authenticate("garbage")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	issued := time.Now().Add(-2 * time.Hour)
	expired, err := f.tokens.WithClock(func() time.Time { return issued }).Issue(5)
	require.NoError(t, err)
	_, err = f.svc.Authenticate(expired)
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))

	valid, err := f.tokens.Issue(5)
	require.NoError(t, err)
	id, err := f.svc.Authenticate(valid)
	require.NoError(t, err)
	assert.Equal(t, int64(5), id)
}

func TestProfileAndNotFoundAfterDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	profile, err := f.svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, Profile{ID: user.ID, Username: "alice", Name: "Alice", Address: "1 River Rd", Telephone: "555-0100"}, profile)

	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID))
	require.NoError(t, f.svc.DeleteAccount(ctx, user.ID), "second delete is a no-op")

	_, err = f.svc.Profile(ctx, user.ID)
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestUpdateProfileRejectsEmptySet(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	err = f.svc.UpdateProfile(ctx, user.ID, UpdateInput{})
	assert.True(t, apperr.Is(err, apperr.KindBadRequest))
	assert.Equal(t, "No fields to update", apperr.Message(err))
}

func TestUpdateProfileOnlyHelp(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)
	before, err := f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)

	help := true
	require.NoError(t, f.svc.UpdateProfile(ctx, user.ID, UpdateInput{Help: &help}))

	after, err := f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, after.Help)
	after.Help = before.Help
	assert.Equal(t, before, after)

	require.Len(t, f.notifier.sent, 1)
	assert.Equal(t, notification.KindNeedsHelp, f.notifier.sent[0].Kind)

	help = false
	require.NoError(t, f.svc.UpdateProfile(ctx, user.ID, UpdateInput{Help: &help}))
	after, err = f.repo.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.False(t, after.Help, "an explicit false is still an update")
	assert.Len(t, f.notifier.sent, 1)
}

func TestUpdateProfileRehashesPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	user, err := f.svc.Signup(ctx, alice())
	require.NoError(t, err)

	require.NoError(t, f.svc.UpdateProfile(ctx, user.ID, UpdateInput{Password: "pw2", Telephone: "555-0199"}))

	_, err = f.svc.Signin(ctx, "alice", "pw1")
	assert.True(t, apperr.Is(err, apperr.KindUnauthorized))
	_, err = f.svc.Signin(ctx, "alice", "pw2")
	require.NoError(t, err)

	profile, err := f.svc.Profile(ctx, user.ID)
	require.NoError(t, err)
	assert.Equal(t, "555-0199", profile.Telephone)
	assert.Equal(t, "Alice", profile.Name)
}

func TestListNeedingHelpProjection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	in := alice()
	in.Help = true
	a, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)
	_, err = f.svc.Signup(ctx, SignupInput{Username: "bob", Password: "pw", Name: "Bob"})
	require.NoError(t, err)

	list, err := f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	assert.Equal(t, []HelpRequest{{ID: a.ID, Name: "Alice", Address: "1 River Rd", Telephone: "555-0100"}}, list)
	assert.Len(t, f.notifier.sent, 1, "signup with help raises a notification")
}

func TestListNeedingHelpEmptyIsNotNil(t *testing.T) {
	f := newFixture(t)
	list, err := f.svc.ListNeedingHelp(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, list)
	assert.Empty(t, list)
}

type brokenRepo struct {
	Repository
}

var errStoreDown = errors.New("dial tcp 127.0.0.1:5432: connection refused")

func (brokenRepo) FindByUsername(context.Context, string) (User, error) {
	return User{}, errStoreDown
}

func (brokenRepo) ListNeedingHelp(context.Context) ([]HelpRequest, error) {
	return nil, errStoreDown
}

func TestStoreFailuresAreInternalAndLogged(t *testing.T) {
	var buf bytes.Buffer
	f := newFixture(t, func(d *Deps) {
		d.Repo = brokenRepo{Repository: d.Repo}
		d.Logger = slog.New(slog.NewJSONHandler(&buf, nil))
	})
	ctx := context.Background()

	_, err := f.svc.Signup(ctx, alice())
	assert.True(t, apperr.Is(err, apperr.KindInternal))
	assert.Equal(t, "Internal server error", apperr.Message(err))
	assert.ErrorIs(t, err, errStoreDown)

	_, err = f.svc.Signin(ctx, "alice", "pw1")
	assert.True(t, apperr.Is(err, apperr.KindInternal))

	_, err = f.svc.ListNeedingHelp(ctx)
	assert.True(t, apperr.Is(err, apperr.KindInternal))

	logged := buf.String()
	assert.Contains(t, logged, `"op":"signup.lookup"`)
	assert.Contains(t, logged, `"op":"signin.lookup"`)
	assert.Contains(t, logged, "connection refused")
}

func TestListNeedingHelpIsCachedAndInvalidated(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t, func(d *Deps) { d.Cache = NewRedisListingCache(client, time.Minute) })
	ctx := context.Background()

	in := alice()
	in.Help = true
	a, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	list, err := f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.True(t, mr.Exists(listingCacheKey))

	name := "Alice Smith"
	require.NoError(t, f.svc.UpdateProfile(ctx, a.ID, UpdateInput{Name: name}))
	assert.False(t, mr.Exists(listingCacheKey), "profile edits drop the cached listing")

	list, err = f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, name, list[0].Name)

	require.NoError(t, f.svc.DeleteAccount(ctx, a.ID))
	list, err = f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestListNeedingHelpSurvivesCacheOutage(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	f := newFixture(t, func(d *Deps) { d.Cache = NewRedisListingCache(client, time.Minute) })
	ctx := context.Background()
	in := alice()
	in.Help = true
	_, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	mr.Close()

	list, err := f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}

// midReadRepo runs hook once, after the listing has been read from the store
// and before the service refills the cache.
type midReadRepo struct {
	Repository
	hook func()
}

func (r *midReadRepo) ListNeedingHelp(ctx context.Context) ([]HelpRequest, error) {
	list, err := r.Repository.ListNeedingHelp(ctx)
	if r.hook != nil {
		hook := r.hook
		r.hook = nil
		hook()
	}
	return list, err
}

func TestListNeedingHelpDropsRefillRacingADelete(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	repo := &midReadRepo{Repository: NewMemoryRepository()}
	f := newFixture(t, func(d *Deps) {
		d.Repo = repo
		d.Cache = NewRedisListingCache(client, time.Minute)
	})
	ctx := context.Background()

	in := alice()
	in.Help = true
	a, err := f.svc.Signup(ctx, in)
	require.NoError(t, err)

	repo.hook = func() { require.NoError(t, f.svc.DeleteAccount(ctx, a.ID)) }
	list, err := f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	require.Len(t, list, 1, "the in-flight read still sees the account")
	assert.False(t, mr.Exists(listingCacheKey), "stale refill must not be stored")

	list, err = f.svc.ListNeedingHelp(ctx)
	require.NoError(t, err)
	assert.Empty(t, list, "deleted account is no longer listed")
}
