package expense

import (
	"context"
	"math"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"spendsync/cmd/identity"
	"spendsync/cmd/internal/auth/session/sessiontest"
	"spendsync/cmd/internal/storage/storagetest"
)

// StoreTestSuite runs the same contract against every Store implementation.
type StoreTestSuite struct {
	suite.Suite

	open func(t *testing.T) (Store, identity.Store)

	store Store
	users identity.Store
	alice string
	bob   string
	ctx   context.Context
}

func (s *StoreTestSuite) SetupTest() {
	sessiontest.CheapArgon(s.T())
	s.ctx = context.Background()
	s.store, s.users = s.open(s.T())
	s.alice = s.createUser("alice@example.com")
	s.bob = s.createUser("bob@example.com")
}

func (s *StoreTestSuite) createUser(email string) string {
	u, err := s.users.CreateUser(s.ctx, identity.CreateUserInput{
		Email:    email,
		Password: "correct-horse-battery-9",
		Role:     identity.RoleViewer,
		Now:      time.Now().UTC(),
	})
	require.NoError(s.T(), err, "create user %s", email)
	return u.ID
}

func day(y int, m time.Month, d, hour int) time.Time {
	return time.Date(y, m, d, hour, 0, 0, 0, time.UTC)
}

func (s *StoreTestSuite) mustCreate(userID, title, category string, amount float64, at time.Time) Expense {
	e, err := s.store.Create(s.ctx, userID, Input{Title: title, Amount: amount, Category: category, Date: at}, time.Now())
	require.NoError(s.T(), err, "create %s", title)
	return e
}

func (s *StoreTestSuite) TestCreateAndGet() {
	at := day(2025, time.March, 4, 12)
	created := s.mustCreate(s.alice, "  Lunch ", " food ", 10.5, at)

	assert.Len(s.T(), created.ID, 26)
	assert.Equal(s.T(), s.alice, created.UserID)
	assert.Equal(s.T(), "Lunch", created.Title)
	assert.Equal(s.T(), "food", created.Category)
	assert.Equal(s.T(), int64(1), created.Version)

	got, err := s.store.Get(s.ctx, s.alice, created.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), created.Title, got.Title)
	assert.Equal(s.T(), 10.5, got.Amount)
	assert.True(s.T(), at.Equal(got.Date), "date %v want %v", got.Date, at)
	assert.Equal(s.T(), int64(1), got.Version)
	assert.True(s.T(), created.CreatedAt.Equal(got.CreatedAt))
}

func (s *StoreTestSuite) TestCreateRejectsInvalidInput() {
	valid := Input{Title: "Bus", Amount: 2, Category: "transport", Date: day(2025, time.March, 1, 8)}

	cases := []struct {
		name  string
		edit  func(*Input)
		field string
	}{
		{"empty title", func(in *Input) { in.Title = "   " }, "title"},
		{"empty category", func(in *Input) { in.Category = "" }, "category"},
		{"zero amount", func(in *Input) { in.Amount = 0 }, "amount"},
		{"negative amount", func(in *Input) { in.Amount = -3 }, "amount"},
		{"nan amount", func(in *Input) { in.Amount = math.NaN() }, "amount"},
		{"missing date", func(in *Input) { in.Date = time.Time{} }, "date"},
	}
	for _, tc := range cases {
		s.Run(tc.name, func() {
			in := valid
			tc.edit(&in)
			_, err := s.store.Create(s.ctx, s.alice, in, time.Now())
			require.ErrorIs(s.T(), err, ErrInvalid)

			var ve ValidationError
			require.ErrorAs(s.T(), err, &ve)
			assert.Equal(s.T(), tc.field, ve.Field)
		})
	}

	list, err := s.store.List(s.ctx, s.alice, Filter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), list, "rejected inputs must not be stored")
}

func (s *StoreTestSuite) TestCreateForUnknownUser() {
	_, err := s.store.Create(s.ctx, "01ARZ3NDEKTSV4RRFFQ69G5FAV",
		Input{Title: "x", Amount: 1, Category: "c", Date: time.Now()}, time.Now())
	assert.ErrorIs(s.T(), err, ErrNotFound)
}

func (s *StoreTestSuite) TestRecordsAreScopedToAccount() {
	e := s.mustCreate(s.alice, "Rent", "housing", 900, day(2025, time.March, 1, 0))

	_, err := s.store.Get(s.ctx, s.bob, e.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)

	_, err = s.store.Update(s.ctx, s.bob, e.ID,
		Input{Title: "Stolen", Amount: 1, Category: "x", Date: time.Now()}, 0, time.Now())
	assert.ErrorIs(s.T(), err, ErrNotFound)

	assert.ErrorIs(s.T(), s.store.Delete(s.ctx, s.bob, e.ID), ErrNotFound)

	list, err := s.store.List(s.ctx, s.bob, Filter{})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), list)

	got, err := s.store.Get(s.ctx, s.alice, e.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), "Rent", got.Title, "other account must not change the record")
}

func (s *StoreTestSuite) TestListOrderAndFilters() {
	s.mustCreate(s.alice, "Bus", "transport", 20, day(2025, time.March, 3, 9))
	s.mustCreate(s.alice, "Coffee", "food", 5, day(2025, time.March, 4, 0))
	s.mustCreate(s.alice, "Snack", "food", 15, day(2025, time.March, 4, 23))
	s.mustCreate(s.alice, "Dinner", "food", 30, day(2025, time.March, 5, 0))
	s.mustCreate(s.bob, "Other", "food", 1, day(2025, time.March, 4, 12))

	all, err := s.store.List(s.ctx, s.alice, Filter{})
	require.NoError(s.T(), err)
	require.Len(s.T(), all, 4)
	assert.Equal(s.T(), "Dinner", all[0].Title, "newest date first")
	assert.Equal(s.T(), "Bus", all[3].Title)

	food, err := s.store.List(s.ctx, s.alice, Filter{Category: "food"})
	require.NoError(s.T(), err)
	assert.Len(s.T(), food, 3)

	onDay, err := s.store.List(s.ctx, s.alice, Filter{Day: day(2025, time.March, 4, 0)})
	require.NoError(s.T(), err)
	if assert.Len(s.T(), onDay, 2, "UTC day bounds are [00:00, next 00:00)") {
		assert.Equal(s.T(), "Snack", onDay[0].Title)
		assert.Equal(s.T(), "Coffee", onDay[1].Title)
	}

	both, err := s.store.List(s.ctx, s.alice, Filter{Category: "transport", Day: day(2025, time.March, 4, 0)})
	require.NoError(s.T(), err)
	assert.Empty(s.T(), both)
}

func (s *StoreTestSuite) TestUpdateBumpsVersion() {
	e := s.mustCreate(s.alice, "Taxi", "transport", 12, day(2025, time.March, 2, 20))

	upd, err := s.store.Update(s.ctx, s.alice, e.ID,
		Input{Title: "Taxi home", Amount: 14, Category: "transport", Date: e.Date}, 0, time.Now())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), upd.Version)
	assert.Equal(s.T(), "Taxi home", upd.Title)
	assert.Equal(s.T(), 14.0, upd.Amount)
	assert.True(s.T(), upd.CreatedAt.Equal(e.CreatedAt))

	upd, err = s.store.Update(s.ctx, s.alice, e.ID,
		Input{Title: "Taxi", Amount: 14, Category: "transport", Date: e.Date}, 2, time.Now())
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(3), upd.Version)
}

func (s *StoreTestSuite) TestUpdateVersionConflict() {
	e := s.mustCreate(s.alice, "Book", "education", 25, day(2025, time.March, 2, 10))
	_, err := s.store.Update(s.ctx, s.alice, e.ID,
		Input{Title: "Book", Amount: 30, Category: "education", Date: e.Date}, 0, time.Now())
	require.NoError(s.T(), err)

	_, err = s.store.Update(s.ctx, s.alice, e.ID,
		Input{Title: "Stale", Amount: 1, Category: "education", Date: e.Date}, 1, time.Now())
	require.ErrorIs(s.T(), err, ErrVersionConflict)

	got, err := s.store.Get(s.ctx, s.alice, e.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(2), got.Version)
	assert.Equal(s.T(), 30.0, got.Amount)
}

func (s *StoreTestSuite) TestUpdateValidatesInput() {
	e := s.mustCreate(s.alice, "Gym", "health", 40, day(2025, time.March, 1, 7))
	_, err := s.store.Update(s.ctx, s.alice, e.ID,
		Input{Title: "Gym", Amount: -1, Category: "health", Date: e.Date}, 0, time.Now())
	require.ErrorIs(s.T(), err, ErrInvalid)

	got, err := s.store.Get(s.ctx, s.alice, e.ID)
	require.NoError(s.T(), err)
	assert.Equal(s.T(), int64(1), got.Version)
}

func (s *StoreTestSuite) TestDelete() {
	e := s.mustCreate(s.alice, "Tea", "food", 3, day(2025, time.March, 1, 15))

	require.NoError(s.T(), s.store.Delete(s.ctx, s.alice, e.ID))
	_, err := s.store.Get(s.ctx, s.alice, e.ID)
	assert.ErrorIs(s.T(), err, ErrNotFound)
	assert.ErrorIs(s.T(), s.store.Delete(s.ctx, s.alice, e.ID), ErrNotFound)
}

func TestSQLiteStoreSuite(t *testing.T) {
	suite.Run(t, &StoreTestSuite{
		open: func(t *testing.T) (Store, identity.Store) {
			db := storagetest.SQLite(t)
			users, err := identity.NewSQLiteStore(db)
			require.NoError(t, err)
			st, err := NewSQLiteStore(db)
			require.NoError(t, err)
			return st, users
		},
	})
}

func TestPostgresStoreSuite(t *testing.T) {
	if os.Getenv(storagetest.DatabaseURLEnv) == "" {
		t.Skip("integration test skipped: " + storagetest.DatabaseURLEnv + " is not set")
	}
	suite.Run(t, &StoreTestSuite{
		open: func(t *testing.T) (Store, identity.Store) {
			pool, schema := storagetest.Postgres(t)
			users, err := identity.NewPostgresStore(pool, identity.WithSchema(schema))
			require.NoError(t, err)
			st, err := NewPostgresStore(pool, schema)
			require.NoError(t, err)
			return st, users
		},
	})
}

func TestSummarize(t *testing.T) {
	now := day(2025, time.March, 10, 15)
	list := []Expense{
		{Amount: 10, Category: "food", Date: day(2025, time.March, 10, 1)},
		{Amount: 5, Category: "food", Date: day(2025, time.March, 2, 1)},
		{Amount: 100, Category: "rent", Date: day(2025, time.February, 28, 23)},
		{Amount: 7, Category: "fun", Date: day(2025, time.March, 11, 0)},
	}

	got := Summarize(list, now)
	assert.Equal(t, 122.0, got.Total)
	assert.Equal(t, 22.0, got.Month)
	assert.Equal(t, 10.0, got.Today)
	assert.Equal(t, 4, got.Count)
	assert.Equal(t, CategoryTotal{Total: 15, Count: 2}, got.ByCategory["food"])
	assert.Equal(t, CategoryTotal{Total: 100, Count: 1}, got.ByCategory["rent"])

	empty := Summarize(nil, now)
	assert.Zero(t, empty.Total)
	assert.NotNil(t, empty.ByCategory)
}
