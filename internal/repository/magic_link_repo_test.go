package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"magiclink/internal/entity"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newGormWithMock(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		SkipDefaultTransaction: true,
		Logger:                 logger.Discard,
	})
	require.NoError(t, err)
	return db, mock
}

func TestMagicLinkRepository_Create(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewMagicLinkRepository(db)

	mock.ExpectQuery(`INSERT INTO "magic_links"`).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	link := &entity.MagicLink{Email: "a@b.com", Token: "tok", Expiry: time.Now().Add(time.Minute), RedirectURL: "/"}
	require.NoError(t, repo.Create(context.Background(), link))
	assert.Equal(t, uint(7), link.ID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMagicLinkRepository_FindByToken(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		db, mock := newGormWithMock(t)
		repo := NewMagicLinkRepository(db)

		rows := sqlmock.NewRows([]string{"id", "email", "token", "disabled", "times_used"}).
			AddRow(3, "a@b.com", "tok", false, 0)
		mock.ExpectQuery(`SELECT \* FROM "magic_links" WHERE token = \$1`).WillReturnRows(rows)

		link, err := repo.FindByToken(context.Background(), "tok")
		require.NoError(t, err)
		require.NotNil(t, link)
		assert.Equal(t, uint(3), link.ID)
		assert.Equal(t, "a@b.com", link.Email)
	})

	t.Run("missing", func(t *testing.T) {
		db, mock := newGormWithMock(t)
		repo := NewMagicLinkRepository(db)

		mock.ExpectQuery(`SELECT \* FROM "magic_links" WHERE token = \$1`).
			WillReturnRows(sqlmock.NewRows([]string{"id"}))

		link, err := repo.FindByToken(context.Background(), "nope")
		require.NoError(t, err)
		assert.Nil(t, link)
	})

	t.Run("db error", func(t *testing.T) {
		db, mock := newGormWithMock(t)
		repo := NewMagicLinkRepository(db)

		mock.ExpectQuery(`SELECT \* FROM "magic_links"`).WillReturnError(errors.New("db down"))

		_, err := repo.FindByToken(context.Background(), "tok")
		assert.EqualError(t, err, "db down")
	})
}

func TestMagicLinkRepository_ListByEmail(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewMagicLinkRepository(db)

	rows := sqlmock.NewRows([]string{"id", "email", "token"}).
		AddRow(9, "a@b.com", "newer").
		AddRow(4, "a@b.com", "older")
	mock.ExpectQuery(`SELECT \* FROM "magic_links" WHERE email = \$1 ORDER BY created DESC`).WillReturnRows(rows)

	links, err := repo.ListByEmail(context.Background(), "a@b.com")
	require.NoError(t, err)
	require.Len(t, links, 2)
	assert.Equal(t, uint(9), links[0].ID)
	assert.Equal(t, "older", links[1].Token)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMagicLinkRepository_ExistsCreatedSince(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewMagicLinkRepository(db)

	mock.ExpectQuery(`SELECT count\(\*\) FROM "magic_links" WHERE email = \$1 AND created >= \$2`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	exists, err := repo.ExistsCreatedSince(context.Background(), "a@b.com", time.Now().Add(-30*time.Second))
	require.NoError(t, err)
	assert.True(t, exists)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMagicLinkRepository_Disable(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "won", affected: 1, want: true},
		{name: "already disabled", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newGormWithMock(t)
			repo := NewMagicLinkRepository(db)

			mock.ExpectExec(`UPDATE "magic_links" SET .*times_used.* WHERE id = \$\d+ AND disabled = \$\d+`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.Disable(context.Background(), 5)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMagicLinkRepository_RecordUse(t *testing.T) {
	tests := []struct {
		name     string
		affected int64
		want     bool
	}{
		{name: "first writer wins", affected: 1, want: true},
		{name: "lost the race", affected: 0, want: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock := newGormWithMock(t)
			repo := NewMagicLinkRepository(db)

			mock.ExpectExec(`UPDATE "magic_links" SET .* WHERE id = \$\d+ AND disabled = \$\d+ AND times_used = \$\d+`).
				WillReturnResult(sqlmock.NewResult(0, tt.affected))

			ok, err := repo.RecordUse(context.Background(), 5, 0, 1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ok)
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

func TestMagicLinkRepository_Sweep(t *testing.T) {
	db, mock := newGormWithMock(t)
	repo := NewMagicLinkRepository(db)

	mock.ExpectExec(`UPDATE "magic_links" SET .* WHERE disabled = \$\d+ AND expiry <= \$\d+`).
		WillReturnResult(sqlmock.NewResult(0, 2))
	mock.ExpectExec(`DELETE FROM "magic_links" WHERE disabled = \$1`).
		WillReturnResult(sqlmock.NewResult(0, 4))

	disabled, err := repo.DisableExpiredBefore(context.Background(), time.Now())
	require.NoError(t, err)
	assert.Equal(t, int64(2), disabled)

	deleted, err := repo.DeleteDisabled(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4), deleted)
	assert.NoError(t, mock.ExpectationsWereMet())
}
