//go:build integration

package repo_test

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/aksihijau/service-core/internal/user/entity"
	"github.com/aksihijau/service-core/internal/user/repo"
	"github.com/aksihijau/service-core/pkg/database"
	"github.com/aksihijau/service-core/pkg/utilities"
)

const week = 7 * 24 * time.Hour

func setupRepo(t *testing.T) (*repo.UserRepo, *sqlx.DB) {
	t.Helper()
	if os.Getenv("DATABASE_URL") == "" {
		t.Skip("DATABASE_URL must be set for integration tests")
	}
	ctx := context.Background()
	db, err := database.Connect(ctx, database.ConfigFromEnv())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	r := repo.NewUserRepo(db)
	require.NoError(t, r.EnsureSchema(ctx))
	return r, db
}

var (
	idsOnce sync.Once
	ids     *utilities.IDGenerator
)

func nextID(t *testing.T) int64 {
	t.Helper()
	idsOnce.Do(func() {
		g, err := utilities.NewIDGenerator(1023)
		require.NoError(t, err)
		ids = g
	})
	return ids.NextID()
}

// newUser builds a row whose cooldown clocks both read lastChange and
// deletes it when the test ends.
func newUser(t *testing.T, db *sqlx.DB, lastChange time.Time) *entity.User {
	t.Helper()
	id := nextID(t)
	t.Cleanup(func() {
		_, _ = db.Exec(`DELETE FROM users WHERE user_id=$1`, id)
	})
	return &entity.User{
		ID:                 id,
		Username:           fmt.Sprintf("it_%d", id),
		Email:              fmt.Sprintf("it_%d@aksihijau.test", id),
		PasswordHash:       "$2a$04$initial",
		EcoLevel:           1,
		CreatedAt:          lastChange,
		LastPasswordChange: lastChange,
		LastUsernameChange: lastChange,
	}
}

func pgNow() time.Time { return time.Now().UTC().Truncate(time.Microsecond) }

func TestCreateWithStarterBadge(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	u := newUser(t, db, pgNow())
	require.NoError(t, r.CreateWithStarterBadge(ctx, u, 1))

	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, u.Username, got.Username)
	require.True(t, u.LastPasswordChange.Equal(got.LastPasswordChange))

	badges, err := r.BadgesFor(ctx, u.ID)
	require.NoError(t, err)
	var names []string
	for _, b := range badges {
		require.Equal(t, 1, b.RequiredLevel)
		names = append(names, b.Name)
	}
	require.Contains(t, names, "Tunas Hijau")

	dup := newUser(t, db, pgNow())
	dup.Email = u.Email
	require.ErrorIs(t, r.CreateWithStarterBadge(ctx, dup, 1), repo.ErrDuplicateEmail)

	dup = newUser(t, db, pgNow())
	dup.Username = u.Username
	require.ErrorIs(t, r.CreateWithStarterBadge(ctx, dup, 1), repo.ErrDuplicateUsername)
}

func TestCreateRollsBackWhenBadgeInsertFails(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	u := newUser(t, db, pgNow())

	// reject badge rows for this user only
	name := fmt.Sprintf("reject_badge_%d", u.ID)
	_, err := db.ExecContext(ctx, fmt.Sprintf(`
CREATE OR REPLACE FUNCTION %[1]s() RETURNS trigger AS $$
BEGIN RAISE EXCEPTION 'badge rejected'; END
$$ LANGUAGE plpgsql;
CREATE TRIGGER %[1]s BEFORE INSERT ON user_badges
  FOR EACH ROW WHEN (NEW.user_id = %[2]d) EXECUTE FUNCTION %[1]s();`, name, u.ID))
	require.NoError(t, err)
	t.Cleanup(func() {
		_, _ = db.Exec(fmt.Sprintf(`DROP TRIGGER IF EXISTS %[1]s ON user_badges; DROP FUNCTION IF EXISTS %[1]s();`, name))
	})

	err = r.CreateWithStarterBadge(ctx, u, 1)
	require.ErrorContains(t, err, "badge rejected")

	_, err = r.GetByID(ctx, u.ID)
	require.ErrorIs(t, err, sql.ErrNoRows)
}

func TestConditionalUpdateBoundary(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	last := pgNow().Add(-week)
	u := newUser(t, db, last)
	require.NoError(t, r.CreateWithStarterBadge(ctx, u, 1))
	now := last.Add(week)

	// one microsecond short of the window
	ok, err := r.UpdatePasswordIfUnlocked(ctx, u.ID, "$2a$04$early", now.Add(-time.Microsecond), last.Add(-time.Microsecond))
	require.NoError(t, err)
	require.False(t, ok)

	// exactly now - W is unlocked
	ok, err = r.UpdatePasswordIfUnlocked(ctx, u.ID, "$2a$04$second", now, now.Add(-week))
	require.NoError(t, err)
	require.True(t, ok)

	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, "$2a$04$second", got.PasswordHash)
	require.True(t, now.Equal(got.LastPasswordChange))
	require.True(t, last.Equal(got.LastUsernameChange))

	ok, err = r.UpdateUsernameIfUnlocked(ctx, u.ID, u.Username+"_x", now, now.Add(-week).Add(-time.Microsecond))
	require.NoError(t, err)
	require.False(t, ok)

	ok, err = r.UpdatePasswordIfUnlocked(ctx, nextID(t), "$2a$04$ghost", now, now)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestConcurrentPasswordChangesOneWins(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	now := pgNow()
	u := newUser(t, db, now.Add(-8*24*time.Hour))
	require.NoError(t, r.CreateWithStarterBadge(ctx, u, 1))

	const writers = 8
	var (
		wg     sync.WaitGroup
		wins   atomic.Int32
		winner atomic.Value
		gate   = make(chan struct{})
	)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-gate
			hash := fmt.Sprintf("$2a$04$writer%d", i)
			ok, err := r.UpdatePasswordIfUnlocked(ctx, u.ID, hash, now, now.Add(-week))
			if err != nil {
				t.Errorf("writer %d: %v", i, err)
				return
			}
			if ok {
				wins.Add(1)
				winner.Store(hash)
			}
		}(i)
	}
	close(gate)
	wg.Wait()

	require.Equal(t, int32(1), wins.Load())
	got, err := r.GetByID(ctx, u.ID)
	require.NoError(t, err)
	require.Equal(t, winner.Load(), got.PasswordHash)
	require.True(t, now.Equal(got.LastPasswordChange))
}

func TestUpdatesTranslateUniqueViolations(t *testing.T) {
	r, db := setupRepo(t)
	ctx := context.Background()
	old := pgNow().Add(-8 * 24 * time.Hour)
	a := newUser(t, db, old)
	b := newUser(t, db, old)
	require.NoError(t, r.CreateWithStarterBadge(ctx, a, 1))
	require.NoError(t, r.CreateWithStarterBadge(ctx, b, 1))
	now := pgNow()

	_, err := r.UpdateUsernameIfUnlocked(ctx, a.ID, b.Username, now, now.Add(-week))
	require.ErrorIs(t, err, repo.ErrDuplicateUsername)

	_, err = r.UpdateEmail(ctx, a.ID, b.Email)
	require.ErrorIs(t, err, repo.ErrDuplicateEmail)

	ok, err := r.UpdateProfileIfUnlocked(ctx, a.ID, a.Username+"_new", a.Email, now, now.Add(-week))
	require.NoError(t, err)
	require.True(t, ok)
}
