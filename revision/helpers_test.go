package revision

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	core "gorevision/data/db"
	dbbasic "gorevision/data/db/basic"
	"gorevision/data/orm"
	ormbasic "gorevision/data/orm/basic"
	"gorevision/logging"
)

func newTestOrm(t *testing.T) *ormbasic.Orm {
	t.Helper()
	db, err := dbbasic.New(core.DBConfig{Driver: "sqlite", Database: ":memory:", MaxOpenConns: 1})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return ormbasic.New(db)
}

func userMeta() *orm.ModelMeta {
	return &orm.ModelMeta{
		Name:  "User",
		Table: "users",
		Fields: []orm.FieldMeta{
			{Name: "id", Type: orm.FieldBigInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: orm.FieldString, Nullable: true},
			{Name: "version", Type: orm.FieldInteger, Nullable: true},
			{Name: "createdAt", Column: "created_at", Type: orm.FieldTime, Nullable: true},
			{Name: "updatedAt", Column: "updated_at", Type: orm.FieldTime, Nullable: true},
		},
		CreatedAt: "createdAt",
		UpdatedAt: "updatedAt",
	}
}

// setup 注册 User 模型、建表并开启追踪
func setup(t *testing.T, opts Options, track ...TrackOption) (*Tracker, *TrackedModel) {
	t.Helper()
	ctx := context.Background()
	o := newTestOrm(t)

	if opts.Logger == nil {
		opts.Logger = logging.NewNoopLogger()
	}
	tracker, err := NewTracker(o, opts)
	require.NoError(t, err)
	require.NoError(t, tracker.Sync(ctx))

	users, err := o.Define(userMeta())
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, users, track...)
	require.NoError(t, err)
	require.NoError(t, o.Migrator().CreateTable(ctx, users.Meta()))
	return tracker, tracked
}

func listRevisions(t *testing.T, tracker *Tracker) []*Revision {
	t.Helper()
	page, err := tracker.Store().ListRevisions(context.Background(), Query{Size: 100})
	require.NoError(t, err)
	return page.Data
}

func countChanges(t *testing.T, tracker *Tracker) int64 {
	t.Helper()
	_, changes, err := tracker.DefineModels(context.Background())
	require.NoError(t, err)
	n, err := changes.Count(context.Background())
	require.NoError(t, err)
	return n
}

func documentOf(t *testing.T, r *Revision) *orm.Document {
	t.Helper()
	doc, ok := r.Document.(*orm.Document)
	require.True(t, ok, "document type %T", r.Document)
	return doc
}
