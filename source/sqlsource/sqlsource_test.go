package sqlsource_test

import (
	"context"
	"database/sql"
	"path/filepath"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/jacentio/canon/source"
	"github.com/jacentio/canon/source/sqlsource"
)

func openSQLite(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite", filepath.Join(t.TempDir(), "canon.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE account (
		id TEXT PRIMARY KEY,
		email TEXT,
		full_name TEXT,
		age INTEGER,
		roles TEXT
	)`)
	require.NoError(t, err)
	_, err = db.Exec(`CREATE TABLE post (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT
	)`)
	require.NoError(t, err)
	return db
}

func bind(t *testing.T, src *sqlsource.Source, typeName string) source.Gateway {
	t.Helper()
	gw, err := src.Bind(typeName)
	require.NoError(t, err)
	return gw
}

func TestColumnAndProperty(t *testing.T) {
	tests := []struct {
		key    string
		column string
	}{
		{"id", "id"},
		{"createdAt", "created_at"},
		{"fullName", "full_name"},
		{"userID", "user_id"},
		{"httpServer", "http_server"},
		{"address2", "address2"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.column, sqlsource.Column(tt.key))
		})
	}

	assert.Equal(t, "createdAt", sqlsource.Property("created_at"))
	assert.Equal(t, "id", sqlsource.Property("id"))
	assert.Equal(t, "fullName", sqlsource.Property("full_name"))
}

func TestSQLite_CreateAndQuery(t *testing.T) {
	db := openSQLite(t)
	gw := bind(t, sqlsource.New(db, sqlsource.DefaultConfig()), "account")
	ctx := context.Background()

	id, err := gw.Create(ctx, source.Record{
		"email":    "a@b.com",
		"fullName": "Joe",
		"age":      30,
		"roles":    []any{"admin", "editor"},
	})
	require.NoError(t, err)
	require.IsType(t, "", id)
	assert.Len(t, id.(string), 36)

	_, err = gw.Create(ctx, source.Record{"id": "fixed", "fullName": "Joe", "age": 50})
	require.NoError(t, err)
	_, err = gw.Create(ctx, source.Record{"id": "other", "fullName": "Ann", "age": 70})
	require.NoError(t, err)

	recs, err := gw.Query().Where("FullName", "Joe").Order("Age", source.Descending).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, "fixed", recs[0]["id"])
	assert.Equal(t, int64(50), recs[0]["age"])
	assert.Equal(t, id, recs[1]["id"])
	assert.Equal(t, "a@b.com", recs[1]["email"])
	assert.Equal(t, []any{"admin", "editor"}, recs[1]["roles"])

	limited, err := gw.Query().Order("Age", source.Ascending).Limit(1).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, limited, 1)
	assert.Equal(t, id, limited[0]["id"])

	nulls, err := gw.Query().Where("Email", nil).Execute(ctx)
	require.NoError(t, err)
	assert.Len(t, nulls, 2)
}

func TestSQLite_UpdateAndDelete(t *testing.T) {
	db := openSQLite(t)
	gw := bind(t, sqlsource.New(db, sqlsource.DefaultConfig()), "account")
	ctx := context.Background()

	_, err := gw.Create(ctx, source.Record{"id": "u1", "fullName": "Joe"})
	require.NoError(t, err)

	require.NoError(t, gw.Update(ctx, "u1", source.Record{"fullName": "Ann", "id": "ignored"}))
	recs, err := gw.Query().Where("Id", "u1").Execute(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, "Ann", recs[0]["fullName"])

	assert.NoError(t, gw.Update(ctx, "u1", source.Record{}))
	assert.ErrorIs(t, gw.Update(ctx, "ghost", source.Record{"email": "x"}), source.ErrNotFound)
	assert.ErrorIs(t, gw.Update(ctx, nil, source.Record{}), source.ErrMissingID)

	require.NoError(t, gw.Delete(ctx, "u1"))
	assert.ErrorIs(t, gw.Delete(ctx, "u1"), source.ErrNotFound)
	assert.ErrorIs(t, gw.Delete(ctx, nil), source.ErrMissingID)
}

func TestSQLite_AutoIncrement(t *testing.T) {
	db := openSQLite(t)
	cfg := sqlsource.DefaultConfig()
	cfg.AutoIncrement = true
	gw := bind(t, sqlsource.New(db, cfg), "post")
	ctx := context.Background()

	first, err := gw.Create(ctx, source.Record{"title": "one"})
	require.NoError(t, err)
	second, err := gw.Create(ctx, source.Record{"title": "two"})
	require.NoError(t, err)

	assert.Equal(t, int64(1), first)
	assert.Equal(t, int64(2), second)
}

func TestSQLMock_Statements(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	cfg := sqlsource.DefaultConfig()
	cfg.Tables = map[string]string{"user": "accounts"}
	gw := bind(t, sqlsource.New(db, cfg), "user")
	ctx := context.Background()

	mock.ExpectExec("UPDATE accounts SET email = ?, full_name = ? WHERE id = ?").
		WithArgs("a@b.com", "Joe", int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	err = gw.Update(ctx, 7, source.Record{"fullName": "Joe", "email": "a@b.com"})
	assert.ErrorIs(t, err, source.ErrNotFound)

	mock.ExpectQuery("SELECT * FROM accounts WHERE full_name = ? ORDER BY created_at DESC LIMIT 5").
		WithArgs("Joe").
		WillReturnRows(sqlmock.NewRows([]string{"id", "full_name", "created_at"}).
			AddRow(int64(7), []byte("Joe"), int64(100)))
	recs, err := gw.Query().Where("FullName", "Joe").Order("CreatedAt", source.Descending).Limit(5).Execute(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, source.Record{"id": int64(7), "fullName": "Joe", "createdAt": int64(100)}, recs[0])

	mock.ExpectExec("DELETE FROM accounts WHERE id = ?").
		WithArgs(int64(7)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, gw.Delete(ctx, 7))

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_DollarPlaceholders(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	cfg := sqlsource.DefaultConfig()
	cfg.Placeholder = "$"
	cfg.TablePrefix = "app_"
	gw := bind(t, sqlsource.New(db, cfg), "blogPost")

	mock.ExpectExec("DELETE FROM app_blog_post WHERE id = $1").
		WithArgs("p1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	assert.NoError(t, gw.Delete(context.Background(), "p1"))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_RejectsInvalidIdentifiers(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	gw := bind(t, sqlsource.New(db, sqlsource.DefaultConfig()), "user")
	ctx := context.Background()

	tests := []struct {
		name  string
		query *source.Query
	}{
		{"order", gw.Query().Order("Created; DROP TABLE user --", source.Descending)},
		{"where", gw.Query().Where("Name) OR (1=1", "x")},
		{"empty", gw.Query().Where("", "x")},
		{"leading digit", gw.Query().Order("1st", source.Ascending)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.query.Execute(ctx)
			assert.ErrorIs(t, err, sqlsource.ErrInvalidIdentifier)
		})
	}

	_, err = gw.Create(ctx, source.Record{"name; --": "x"})
	assert.ErrorIs(t, err, sqlsource.ErrInvalidIdentifier)
	err = gw.Update(ctx, "u1", source.Record{"a b": 1})
	assert.ErrorIs(t, err, sqlsource.ErrInvalidIdentifier)

	// Nothing reached the driver.
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestSQLMock_IdentifierCharacters(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherEqual))
	require.NoError(t, err)
	defer db.Close()

	gw := bind(t, sqlsource.New(db, sqlsource.DefaultConfig()), "user")

	mock.ExpectQuery("SELECT * FROM user WHERE address_2 = ? ORDER BY _rank ASC").
		WithArgs("x").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	_, err = gw.Query().Where("Address_2", "x").Order("_rank", source.Ascending).Execute(context.Background())
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCapabilities(t *testing.T) {
	gw := bind(t, sqlsource.New(nil, sqlsource.DefaultConfig()), "account")
	assert.Equal(t, source.Capabilities{CanSaveDirty: true, Relational: true}, gw.Capabilities())
	assert.Equal(t, "account", gw.TypeName())
}
