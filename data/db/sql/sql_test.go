package sql

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	core "gorevision/data/db"
)

// namedDB 仅提供方言名，用于校验生成的 SQL
type namedDB struct {
	core.IDatabase
	name string
}

func (d namedDB) GetDialectName() string { return d.name }

func TestSelectBuilder_Build(t *testing.T) {
	s := New(namedDB{name: "pgx"})
	q, args := s.Select(`"id"`, `"revision"`).
		From(`"revisions"`).
		Where(`"model" = ?`, "User").
		And(`"document_id" = ?`, "1").
		OrderBy(`"revision" DESC`).
		Limit(1).
		ForUpdate().
		Build()

	assert.Equal(t, `SELECT "id", "revision" FROM "revisions" WHERE "model" = ? AND "document_id" = ? ORDER BY "revision" DESC LIMIT ? FOR UPDATE`, q)
	assert.Equal(t, []any{"User", "1", 1}, args)
}

func TestSelectBuilder_OrAndSQLiteLocking(t *testing.T) {
	s := New(namedDB{name: "sqlite"})
	q, args := s.Select().From("t").Where("a = ?", 1).Or("b = ?", 2).ForUpdate().Build()
	assert.Equal(t, "SELECT * FROM t WHERE (a = ? OR b = ?)", q)
	assert.Equal(t, []any{1, 2}, args)

	q, args = s.Select("id").From("t").Offset(5).Build()
	assert.Equal(t, "SELECT id FROM t LIMIT -1 OFFSET ?", q)
	assert.Equal(t, []any{5}, args)
}

func TestBuilders_WhereIn(t *testing.T) {
	s := New(namedDB{name: "pgx"})
	q, args := s.Select("id").From("revision_outbox").
		Where("status = ?", "pending").
		WhereIn("id", 1, 2, 3).
		Build()
	assert.Equal(t, `SELECT id FROM revision_outbox WHERE status = ? AND "id" IN (?, ?, ?)`, q)
	assert.Equal(t, []any{"pending", 1, 2, 3}, args)

	q, args = s.Update("revision_outbox").Set("status", "published").WhereIn("id", int64(7), int64(9)).Build()
	assert.Equal(t, `UPDATE "revision_outbox" SET "status" = ? WHERE "id" IN (?, ?)`, q)
	assert.Equal(t, []any{"published", int64(7), int64(9)}, args)

	q, args = s.DeleteFrom("revision_outbox").WhereIn("id").Build()
	assert.Equal(t, `DELETE FROM "revision_outbox" WHERE 1 = 0`, q)
	assert.Empty(t, args)

	assert.Panics(t, func() { s.Select().From("t").WhereIn("id; drop", 1) })
}

func TestInsertBuilder_Returning(t *testing.T) {
	q, args := New(namedDB{name: "pgx"}).InsertInto("revisions").
		Columns("model", "revision").
		Values("User", 1).
		Returning("id").
		Build()
	assert.Equal(t, `INSERT INTO "revisions" ("model", "revision") VALUES (?, ?) RETURNING "id"`, q)
	assert.Equal(t, []any{"User", 1}, args)

	q, _ = New(namedDB{name: "mysql"}).InsertInto("revisions").
		Columns("model").Values("User").Returning("id").Build()
	assert.Equal(t, "INSERT INTO `revisions` (`model`) VALUES (?)", q)
}

func TestInsertBuilder_PanicsOnUnsafeIdentifier(t *testing.T) {
	assert.Panics(t, func() {
		New(namedDB{name: "sqlite"}).InsertInto("t; drop").Columns("a").Values(1).Build()
	})
	assert.Panics(t, func() {
		New(namedDB{name: "sqlite"}).InsertInto("t").Columns("a b").Values(1).Build()
	})
}

func TestUpdateBuilder_SetMapSorted(t *testing.T) {
	q, args := New(namedDB{name: "sqlite"}).Update("users").
		SetMap(map[string]any{"version": 2, "name": "b"}).
		SetExpr(`"revision" = "revision" + ?`, 1).
		Where(`"id" = ?`, 7).
		Build()
	assert.Equal(t, `UPDATE "users" SET "name" = ?, "version" = ?, "revision" = "revision" + ? WHERE "id" = ?`, q)
	assert.Equal(t, []any{"b", 2, 1, 7}, args)
}

func TestDeleteBuilder_Limit(t *testing.T) {
	q, args := New(namedDB{name: "sqlite"}).DeleteFrom("users").Where("id = ?", 1).Limit(1).Build()
	assert.Equal(t, `DELETE FROM "users" WHERE id = ? LIMIT ?`, q)
	assert.Equal(t, []any{1, 1}, args)

	q, _ = New(namedDB{name: "pgx"}).DeleteFrom("users").Where("id = ?", 1).Limit(1).Build()
	assert.Equal(t, `DELETE FROM "users" WHERE id = ?`, q)
}

func TestUpsertBuilder_Build(t *testing.T) {
	q, args, ok := New(namedDB{name: "sqlite"}).UpsertInto("settings").
		Columns("project_id", "key", "value").
		Values(1, "theme", "dark").
		Key("project_id", "key").
		Build()
	require.True(t, ok)
	assert.Equal(t, `INSERT INTO "settings" ("project_id", "key", "value") VALUES (?, ?, ?) ON CONFLICT ("project_id", "key") DO UPDATE SET "value" = excluded."value"`, q)
	assert.Equal(t, []any{1, "theme", "dark"}, args)

	q, args, ok = New(namedDB{name: "mysql"}).UpsertInto("settings").
		Columns("id", "value").Values(1, "x").Key("id").UpdateSet("value", "y").Build()
	require.True(t, ok)
	assert.Equal(t, "INSERT INTO `settings` (`id`, `value`) VALUES (?, ?) ON DUPLICATE KEY UPDATE `value` = ?", q)
	assert.Equal(t, []any{1, "x", "y"}, args)

	q, _, ok = New(namedDB{name: "pgx"}).UpsertInto("tags").Columns("id").Values(1).Key("id").Build()
	require.True(t, ok)
	assert.Equal(t, `INSERT INTO "tags" ("id") VALUES (?) ON CONFLICT ("id") DO NOTHING`, q)

	_, _, ok = New(namedDB{name: "oracle"}).UpsertInto("tags").Columns("id").Values(1).Key("id").Build()
	assert.False(t, ok)
}

func TestIsSafeIdentifier(t *testing.T) {
	assert.True(t, IsSafeIdentifier("public.revisions"))
	assert.True(t, IsSafeIdentifier("_a1"))
	assert.False(t, IsSafeIdentifier("a..b"))
	assert.False(t, IsSafeIdentifier("1a"))
	assert.False(t, IsSafeIdentifier("users;"))
	assert.False(t, IsSafeIdentifier(""))
}
