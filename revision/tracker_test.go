package revision

import (
	"context"
	stdErrors "errors"
	"testing"

	"github.com/google/uuid"
	"github.com/oklog/ulid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/data/orm"
	"gorevision/errors"
	"gorevision/revision/ambient"
	"gorevision/revision/chardiff"
	"gorevision/revision/delta"
)

func TestNewTracker_InvalidPrimaryKeyType(t *testing.T) {
	_, err := NewTracker(newTestOrm(t), Options{PrimaryKeyType: "bigserial"})
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
	assert.Equal(t, errors.ErrCodeConfiguration, errors.GetErrorCode(err))
}

// limitedOrm 只声明部分能力的适配器
type limitedOrm struct {
	orm.IOrm
	caps orm.Capabilities
}

func (o limitedOrm) Capabilities() orm.Capabilities { return o.caps }

func TestNewTracker_RequiresCapabilities(t *testing.T) {
	base := newTestOrm(t)
	noTx := limitedOrm{IOrm: base, caps: orm.NewCapabilities(orm.CapabilityBasicCRUD, orm.CapabilityQuery)}
	_, err := NewTracker(noTx, Options{})
	require.Error(t, err)
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
	assert.Contains(t, err.Error(), "transaction")

	noMigration := limitedOrm{IOrm: base, caps: orm.NewCapabilities(
		orm.CapabilityBasicCRUD, orm.CapabilityQuery, orm.CapabilityTransaction)}
	_, err = NewTracker(noMigration, Options{})
	require.NoError(t, err)
	_, err = NewTracker(noMigration, Options{EnableMigration: true})
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
}

func TestNewTracker_NilOrm(t *testing.T) {
	_, err := NewTracker(nil, Options{})
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
}

func TestTrack_Create(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Get("revision"))

	rev := RevisionOf(rec)
	require.NotNil(t, rev)
	assert.Equal(t, OperationCreate, rev.Operation)
	assert.Equal(t, int64(1), rev.Revision)

	revisions := listRevisions(t, tracker)
	require.Len(t, revisions, 1)
	r := revisions[0]
	assert.Equal(t, "User", r.Model)
	assert.Equal(t, OperationCreate, r.Operation)
	assert.Equal(t, int64(1), r.Revision)
	assert.Equal(t, "1", r.DocumentID)
	assert.Nil(t, r.UserID)

	doc := documentOf(t, r)
	assert.Equal(t, []string{"name", "version"}, doc.Keys())
	name, _ := doc.Get("name")
	version, _ := doc.Get("version")
	assert.Equal(t, "x", name)
	assert.Equal(t, float64(1), version)

	ids, ok := r.DocumentIDs.(*orm.Document)
	require.True(t, ok)
	id, _ := ids.Get("id")
	assert.Equal(t, float64(1), id)
}

func TestTrack_TwoUpdatesAfterNoRevisionCreate(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "original", "version": 1})
	require.NoError(t, users.Create(ctx, rec, NoRevision()))
	assert.Nil(t, RevisionOf(rec))
	assert.Empty(t, listRevisions(t, tracker))

	rec.Set("name", "changed")
	require.NoError(t, users.Update(ctx, rec))
	rec.Set("version", 2)
	require.NoError(t, users.Update(ctx, rec))

	revisions := listRevisions(t, tracker)
	require.Len(t, revisions, 2)
	assert.Equal(t, int64(1), revisions[0].Revision)
	assert.Equal(t, int64(2), revisions[1].Revision)
	assert.Equal(t, OperationUpdate, revisions[0].Operation)

	first := documentOf(t, revisions[0])
	name, _ := first.Get("name")
	version, _ := first.Get("version")
	assert.Equal(t, "changed", name)
	assert.Equal(t, float64(1), version)

	reloaded, err := users.First(ctx, orm.WithEquals("id", rec.Get("id")))
	require.NoError(t, err)
	assert.Equal(t, int64(2), reloaded.Get("revision"))
}

func TestTrack_IdenticalUpdateIsNoop(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))

	require.NoError(t, users.Update(ctx, rec, orm.WithValues(map[string]any{"name": "x", "version": 1})))
	assert.Nil(t, RevisionOf(rec))
	assert.Equal(t, int64(1), rec.Get("revision"))
	assert.Len(t, listRevisions(t, tracker), 1)
}

func TestTrack_MonotonicCounter(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "v0"})
	require.NoError(t, users.Create(ctx, rec))
	for i := 1; i <= 4; i++ {
		rec.Set("version", i)
		require.NoError(t, users.Update(ctx, rec))
		assert.Equal(t, int64(i+1), rec.Get("revision"))
		assert.Equal(t, int64(i+1), RevisionOf(rec).Revision)
	}

	revisions := listRevisions(t, tracker)
	require.Len(t, revisions, 5)
	for i, r := range revisions {
		assert.Equal(t, int64(i+1), r.Revision)
	}
}

func TestTrack_CounterCannotBeForged(t *testing.T) {
	ctx := context.Background()
	_, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "x", "revision": 40})
	require.NoError(t, users.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Get("revision"))

	rec.Set("name", "y").Set("revision", 99)
	require.NoError(t, users.Update(ctx, rec))
	assert.Equal(t, int64(2), rec.Get("revision"))
}

func TestTrack_DestroyIsAlwaysSignificant(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	require.NoError(t, users.Destroy(ctx, rec))

	rev := RevisionOf(rec)
	require.NotNil(t, rev)
	assert.Equal(t, OperationDestroy, rev.Operation)
	assert.Equal(t, int64(2), rev.Revision)

	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	revisions := listRevisions(t, tracker)
	require.Len(t, revisions, 2)
	name, _ := documentOf(t, revisions[1]).Get("name")
	assert.Equal(t, "x", name)
}

func TestTrack_Exclusion(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{}, WithExclude("version"))

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	assert.False(t, documentOf(t, RevisionOf(rec)).Has("version"))

	rec.Set("version", 2)
	require.NoError(t, users.Update(ctx, rec))
	assert.Nil(t, RevisionOf(rec))
	assert.Len(t, listRevisions(t, tracker), 1)

	// updatedAt 属于全局排除列表
	rec.Set("updatedAt", rec.Get("createdAt"))
	require.NoError(t, users.Update(ctx, rec))
	assert.Len(t, listRevisions(t, tracker), 1)
}

func TestTrack_LooseDiff(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableStrictDiff: Bool(false), EnableRevisionChangeModel: true})

	rec := users.Build(map[string]any{"name": "1"})
	require.NoError(t, users.Create(ctx, rec))

	rec.Set("name", 1)
	require.NoError(t, users.Update(ctx, rec))
	assert.Nil(t, RevisionOf(rec))
	assert.Len(t, listRevisions(t, tracker), 1)
}

func TestTrack_StrictDiff(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableRevisionChangeModel: true})

	rec := users.Build(map[string]any{"name": "1"})
	require.NoError(t, users.Create(ctx, rec))

	rec.Set("name", 1)
	require.NoError(t, users.Update(ctx, rec))
	rev := RevisionOf(rec)
	require.NotNil(t, rev)
	require.Len(t, rev.Changes, 1)

	change, err := rev.Changes[0].Change()
	require.NoError(t, err)
	assert.Equal(t, delta.KindEdited, change.Kind)
	assert.Equal(t, "1", change.LHS)
	assert.Equal(t, 1, change.RHS)
	assert.Equal(t, int64(2), countChanges(t, tracker))
}

func TestTrack_FieldLevelChanges(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableRevisionChangeModel: true})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	created := RevisionOf(rec)
	require.Len(t, created.Changes, 2)

	require.NoError(t, users.Update(ctx, rec, orm.WithValues(map[string]any{"name": "y", "version": 2})))
	rev := RevisionOf(rec)
	require.NotNil(t, rev)
	require.Len(t, rev.Changes, 2)
	assert.Equal(t, "name", rev.Changes[0].Path)
	assert.Equal(t, "version", rev.Changes[1].Path)
	for _, c := range rev.Changes {
		assert.Equal(t, rev.ID, c.RevisionID)
	}

	stored, err := tracker.Store().ListChanges(ctx, rev.ID)
	require.NoError(t, err)
	require.Len(t, stored, 2)
	assert.Equal(t, "name", stored[0].Path)

	segments, err := stored[0].Segments()
	require.NoError(t, err)
	assert.Equal(t, []chardiff.Segment{
		{Count: 1, Removed: true, Value: "x"},
		{Count: 1, Added: true, Value: "y"},
	}, segments)

	change, err := stored[1].Change()
	require.NoError(t, err)
	assert.Equal(t, delta.KindEdited, change.Kind)
	assert.Equal(t, []any{"version"}, change.Path)
	assert.Equal(t, float64(1), change.LHS)
	assert.Equal(t, float64(2), change.RHS)
}

func TestTrack_ChangeSaveConcurrency(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableRevisionChangeModel: true, ChangeSaveConcurrency: 4})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	rev := RevisionOf(rec)
	require.Len(t, rev.Changes, 2)
	assert.Equal(t, "name", rev.Changes[0].Path)
	assert.Equal(t, "version", rev.Changes[1].Path)
	assert.Equal(t, int64(2), countChanges(t, tracker))
}

func TestTrack_TransactionRollback(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableRevisionChangeModel: true})

	sess, err := tracker.orm.Begin(ctx)
	require.NoError(t, err)

	bound := users.WithSession(sess)
	rec := bound.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, bound.Create(ctx, rec))
	rec.Set("name", "y")
	require.NoError(t, users.Update(ctx, rec, orm.WithSession(sess)))
	require.NoError(t, bound.Destroy(ctx, rec))
	require.NotNil(t, RevisionOf(rec))
	require.NoError(t, sess.Rollback())

	assert.Empty(t, listRevisions(t, tracker))
	assert.Zero(t, countChanges(t, tracker))
	n, err := users.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestTrack_TransactionCommit(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{})

	sess, err := tracker.orm.Begin(ctx)
	require.NoError(t, err)
	rec := users.Build(map[string]any{"name": "x"})
	require.NoError(t, users.Create(ctx, rec, orm.WithSession(sess)))
	require.NoError(t, sess.Commit())

	assert.Len(t, listRevisions(t, tracker), 1)
}

func compositeMeta() *orm.ModelMeta {
	return &orm.ModelMeta{
		Name:  "Setting",
		Table: "settings",
		Fields: []orm.FieldMeta{
			{Name: "project_id", Type: orm.FieldBigInt, PrimaryKey: true},
			{Name: "key", Type: orm.FieldString, PrimaryKey: true},
			{Name: "value", Type: orm.FieldText, Nullable: true},
		},
	}
}

func TestTrack_CompositeKeyDocumentIDs(t *testing.T) {
	ctx := context.Background()
	tracker, _ := setup(t, Options{})

	settings, err := tracker.orm.Define(compositeMeta())
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, settings)
	require.NoError(t, err)
	require.NoError(t, tracker.orm.Migrator().CreateTable(ctx, settings.Meta()))

	rec := tracked.Build(map[string]any{"project_id": 7, "key": "theme", "value": "dark"})
	require.NoError(t, tracked.Create(ctx, rec))

	latest, err := tracker.Store().LatestRevision(ctx, "Setting", 7)
	require.NoError(t, err)
	assert.Equal(t, "7", latest.DocumentID)
	ids, ok := latest.DocumentIDs.(*orm.Document)
	require.True(t, ok)
	assert.Equal(t, []string{"project_id", "key"}, ids.Keys())
	pid, _ := ids.Get("project_id")
	key, _ := ids.Get("key")
	assert.Equal(t, float64(7), pid)
	assert.Equal(t, "theme", key)

	// 默认只排除 id，其余主键属性保留在文档中
	doc := documentOf(t, latest)
	assert.True(t, doc.Has("key"))
}

func TestTrack_UpsertRestartsCounter(t *testing.T) {
	ctx := context.Background()
	tracker, _ := setup(t, Options{})

	settings, err := tracker.orm.Define(compositeMeta())
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, settings)
	require.NoError(t, err)
	require.NoError(t, tracker.orm.Migrator().CreateTable(ctx, settings.Meta()))

	rec := tracked.Build(map[string]any{"project_id": 1, "key": "k", "value": "a"})
	require.NoError(t, tracked.Create(ctx, rec))
	rec.Set("value", "b")
	require.NoError(t, tracked.Update(ctx, rec))
	assert.Equal(t, int64(2), rec.Get("revision"))

	again := tracked.Build(map[string]any{"project_id": 1, "key": "k", "value": "c"})
	require.NoError(t, tracked.Upsert(ctx, again))
	rev := RevisionOf(again)
	require.NotNil(t, rev)
	assert.Equal(t, OperationUpsert, rev.Operation)
	assert.Equal(t, int64(1), rev.Revision)

	n, err := tracked.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
}

func TestTrack_UpsertLoadedRecordContinuesCounter(t *testing.T) {
	ctx := context.Background()
	tracker, _ := setup(t, Options{})

	settings, err := tracker.orm.Define(compositeMeta())
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, settings)
	require.NoError(t, err)
	require.NoError(t, tracker.orm.Migrator().CreateTable(ctx, settings.Meta()))

	rec := tracked.Build(map[string]any{"project_id": 1, "key": "k", "value": "a"})
	require.NoError(t, tracked.Create(ctx, rec))
	rec.Set("value", "b")
	require.NoError(t, tracked.Update(ctx, rec))

	loaded, err := tracked.First(ctx, orm.WithEquals("key", "k"))
	require.NoError(t, err)
	loaded.Set("value", "c")
	require.NoError(t, tracked.Upsert(ctx, loaded))

	// 差异仍以空快照为基准，计数沿用已加载的值
	rev := RevisionOf(loaded)
	require.NotNil(t, rev)
	assert.Equal(t, OperationUpsert, rev.Operation)
	assert.Equal(t, int64(3), rev.Revision)
	doc := documentOf(t, rev)
	assert.True(t, doc.Has("project_id"))
	assert.True(t, doc.Has("value"))
}

func TestTrack_TextStorage(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{UseJSONDataType: Bool(false), EnableRevisionChangeModel: true})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))
	assert.Equal(t, `{"name":"x","version":1}`, RevisionOf(rec).Document)

	revisions := listRevisions(t, tracker)
	require.Len(t, revisions, 1)
	assert.Equal(t, `{"name":"x","version":1}`, revisions[0].Document)
	assert.Equal(t, `{"id":1}`, revisions[0].DocumentIDs)

	changes, err := tracker.Store().ListChanges(ctx, revisions[0].ID)
	require.NoError(t, err)
	require.Len(t, changes, 2)
	assert.Equal(t, `{"kind":"N","path":["name"],"rhs":"x"}`, changes[0].Document)
	assert.Equal(t, `[{"count":1,"added":true,"value":"x"}]`, changes[0].Diff)
}

func TestTrack_Underscored(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{
		Underscored:               true,
		UnderscoredAttributes:     true,
		EnableRevisionChangeModel: true,
	})
	assert.Equal(t, "revisions", tracker.Options().TableName)
	assert.Equal(t, "revision_changes", tracker.Options().ChangeTableName)
	assert.Equal(t, "revision_id", tracker.Options().RevisionIDAttribute)
	assert.Equal(t, "user_id", tracker.Options().UserIDAttribute)

	mg := tracker.orm.Migrator()
	cols, err := mg.DescribeTable(ctx, "revisions")
	require.NoError(t, err)
	for _, c := range []string{"id", "model", "document", "operation", "document_id", "document_ids", "revision", "user_id", "created_at", "updated_at"} {
		assert.Contains(t, cols, c)
	}
	cols, err = mg.DescribeTable(ctx, "revision_changes")
	require.NoError(t, err)
	assert.Contains(t, cols, "revision_id")

	rec := users.Build(map[string]any{"name": "x"})
	require.NoError(t, users.Create(ctx, rec))
	rev := RevisionOf(rec)
	require.Len(t, rev.Changes, 1)
	assert.Equal(t, rev.ID, rev.Changes[0].RevisionID)
}

func TestTrack_MetaData(t *testing.T) {
	ctx := context.Background()
	ns := ambient.CreateNamespace("revision-test-metadata")
	t.Cleanup(func() { ambient.DestroyNamespace(ns.Name()) })

	tracker, users := setup(t, Options{
		ContinuationNamespace: ns.Name(),
		MetaDataFields:        map[string]bool{"requestId": true, "note": false},
	})

	t.Run("缺少必填元数据", func(t *testing.T) {
		rec := users.Build(map[string]any{"name": "x"})
		err := users.Create(ctx, rec)
		require.Error(t, err)
		assert.True(t, stdErrors.Is(err, ErrMissingMetadata))
		n, err := users.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("调用选项", func(t *testing.T) {
		rec := users.Build(map[string]any{"name": "a"})
		require.NoError(t, users.Create(ctx, rec, WithRevisionMetaData(map[string]any{"requestId": "r-1", "note": "hi", "ignored": "x"})))
		assert.Equal(t, map[string]any{"requestId": "r-1", "note": "hi"}, RevisionOf(rec).MetaData)
	})

	t.Run("上下文", func(t *testing.T) {
		actx := ns.With(ctx, "metaData", map[string]any{"requestId": "r-2"})
		rec := users.Build(map[string]any{"name": "b"})
		require.NoError(t, users.Create(actx, rec))
		latest, err := tracker.Store().LatestRevision(ctx, "User", rec.Get("id"))
		require.NoError(t, err)
		assert.Equal(t, "r-2", latest.MetaData["requestId"])
		assert.Nil(t, latest.MetaData["note"])
	})

	t.Run("上下文优先", func(t *testing.T) {
		actx := ns.With(ctx, "metaData", map[string]any{"requestId": "ambient"})
		rec := users.Build(map[string]any{"name": "c"})
		require.NoError(t, users.Create(actx, rec, WithRevisionMetaData(map[string]any{"requestId": "option", "note": "n"})))
		md := RevisionOf(rec).MetaData
		assert.Equal(t, "ambient", md["requestId"])
		assert.Equal(t, "n", md["note"])
	})

	t.Run("无变化的写入同样校验", func(t *testing.T) {
		rec := users.Build(map[string]any{"name": "d"})
		require.NoError(t, users.Create(ctx, rec, WithRevisionMetaData(map[string]any{"requestId": "r-3"})))
		err := users.Update(ctx, rec)
		assert.True(t, stdErrors.Is(err, ErrMissingMetadata))
	})
}

func TestTrack_UserFromAmbientAndOptions(t *testing.T) {
	ctx := context.Background()
	ns := ambient.CreateNamespace("revision-test-user")
	t.Cleanup(func() { ambient.DestroyNamespace(ns.Name()) })
	_, users := setup(t, Options{ContinuationNamespace: ns.Name()})

	rec := users.Build(map[string]any{"name": "x"})
	require.NoError(t, users.Create(ns.With(ctx, "userId", "alice"), rec))
	assert.Equal(t, "alice", RevisionOf(rec).UserID)

	rec.Set("name", "y")
	require.NoError(t, users.Update(ctx, rec, WithUserID("bob")))
	assert.Equal(t, "bob", RevisionOf(rec).UserID)

	rec.Set("name", "z")
	err := ns.Run(ctx, map[string]any{"userId": "carol"}, func(ctx context.Context) error {
		return users.Update(ctx, rec, WithUserID("bob"))
	})
	require.NoError(t, err)
	assert.Equal(t, "carol", RevisionOf(rec).UserID)
}

func TestTrack_UserModel(t *testing.T) {
	ctx := context.Background()
	o := newTestOrm(t)
	actors, err := o.Define(&orm.ModelMeta{
		Name:  "Actor",
		Table: "actors",
		Fields: []orm.FieldMeta{
			{Name: "id", Type: orm.FieldBigInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "email", Type: orm.FieldString},
		},
	})
	require.NoError(t, err)
	require.NoError(t, o.Migrator().CreateTable(ctx, actors.Meta()))

	tracker, err := NewTracker(o, Options{UserModel: "Actor", BelongsToUser: UserAssociation{As: "Author"}})
	require.NoError(t, err)
	require.NoError(t, tracker.Sync(ctx))
	users, err := o.Define(userMeta())
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, users)
	require.NoError(t, err)
	require.NoError(t, o.Migrator().CreateTable(ctx, users.Meta()))

	actor := actors.Build(map[string]any{"email": "a@example.com"})
	require.NoError(t, actors.Create(ctx, actor))

	rec := tracked.Build(map[string]any{"name": "x"})
	require.NoError(t, tracked.Create(ctx, rec, WithUserID(actor.Get("id"))))

	revModel, _, err := tracker.DefineModels(ctx)
	require.NoError(t, err)
	field, ok := revModel.Meta().Field("userId")
	require.True(t, ok)
	assert.Equal(t, orm.FieldBigInt, field.Type)

	row, err := revModel.First(ctx)
	require.NoError(t, err)
	assert.Equal(t, actor.Get("id"), row.Get("userId"))
	related, err := revModel.Related(ctx, row, "Author")
	require.NoError(t, err)
	require.Len(t, related, 1)
	assert.Equal(t, "a@example.com", related[0].Get("email"))
}

func TestTrack_UnknownUserModel(t *testing.T) {
	tracker, err := NewTracker(newTestOrm(t), Options{UserModel: "Ghost"})
	require.NoError(t, err)
	_, _, err = tracker.DefineModels(context.Background())
	assert.True(t, stdErrors.Is(err, ErrConfiguration))
}

func TestTrack_Compression(t *testing.T) {
	ctx := context.Background()
	tracker, users := setup(t, Options{EnableCompression: true})

	rec := users.Build(map[string]any{"name": "x", "version": 1})
	require.NoError(t, users.Create(ctx, rec))

	rec.Set("name", "y")
	require.NoError(t, users.Update(ctx, rec, orm.WithFields("name")))
	doc := documentOf(t, RevisionOf(rec))
	assert.Equal(t, []string{"name"}, doc.Keys())

	require.NoError(t, users.Destroy(ctx, rec))
	doc = documentOf(t, RevisionOf(rec))
	assert.Equal(t, []string{"name", "version"}, doc.Keys())
	assert.Len(t, listRevisions(t, tracker), 3)
}

func TestTrack_FailHard(t *testing.T) {
	ctx := context.Background()

	t.Run("更新时缺少修订计数", func(t *testing.T) {
		tracker, users := setup(t, Options{})
		tracker.EnableFailHard()

		rec := users.Build(map[string]any{"name": "x"})
		require.NoError(t, users.Create(ctx, rec, NoRevision()))
		rec.Set("name", "y")
		err := users.Update(ctx, rec)
		assert.True(t, stdErrors.Is(err, ErrRevisionState))

		reloaded, err := users.First(ctx)
		require.NoError(t, err)
		assert.Equal(t, "x", reloaded.Get("name"))
	})

	t.Run("缺少操作者", func(t *testing.T) {
		ns := ambient.CreateNamespace("revision-test-failhard")
		t.Cleanup(func() { ambient.DestroyNamespace(ns.Name()) })
		tracker, users := setup(t, Options{ContinuationNamespace: ns.Name()})
		tracker.EnableFailHard()

		rec := users.Build(map[string]any{"name": "x"})
		err := users.Create(ctx, rec)
		assert.True(t, stdErrors.Is(err, ErrMissingActor))
		assert.Empty(t, listRevisions(t, tracker))
		n, err := users.Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)

		rec = users.Build(map[string]any{"name": "x"})
		require.NoError(t, users.Create(ns.With(ctx, "userId", 9), rec))
		assert.Len(t, listRevisions(t, tracker), 1)
	})
}

func TestTrack_RetryAfterFailedRevision(t *testing.T) {
	ctx := context.Background()

	t.Run("更新", func(t *testing.T) {
		ns := ambient.CreateNamespace("revision-test-retry-update")
		t.Cleanup(func() { ambient.DestroyNamespace(ns.Name()) })
		tracker, users := setup(t, Options{ContinuationNamespace: ns.Name()})
		actx := ns.With(ctx, "userId", 1)

		rec := users.Build(map[string]any{"name": "x"})
		require.NoError(t, users.Create(actx, rec))
		tracker.EnableFailHard()

		rec.Set("name", "y")
		err := users.Update(ctx, rec)
		require.True(t, stdErrors.Is(err, ErrMissingActor))
		assert.Equal(t, int64(1), rec.Get("revision"))
		assert.Contains(t, rec.Changed(), "name")
		assert.False(t, rec.IsNewRecord())

		require.NoError(t, users.Update(actx, rec))
		assert.Equal(t, int64(2), rec.Get("revision"))

		reloaded, err := users.First(ctx)
		require.NoError(t, err)
		assert.Equal(t, "y", reloaded.Get("name"))
		assert.Equal(t, int64(2), reloaded.Get("revision"))

		revisions := listRevisions(t, tracker)
		require.Len(t, revisions, 2)
		assert.Equal(t, int64(2), revisions[1].Revision)
		assert.Equal(t, OperationUpdate, revisions[1].Operation)
	})

	t.Run("创建", func(t *testing.T) {
		ns := ambient.CreateNamespace("revision-test-retry-create")
		t.Cleanup(func() { ambient.DestroyNamespace(ns.Name()) })
		tracker, users := setup(t, Options{ContinuationNamespace: ns.Name()})
		tracker.EnableFailHard()

		rec := users.Build(map[string]any{"name": "x"})
		err := users.Create(ctx, rec)
		require.True(t, stdErrors.Is(err, ErrMissingActor))
		assert.True(t, rec.IsNewRecord())
		_, ok := rec.Lookup("revision")
		assert.False(t, ok)

		require.NoError(t, users.Create(ns.With(ctx, "userId", 1), rec))
		assert.Equal(t, int64(1), rec.Get("revision"))

		n, err := users.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, int64(1), n)
		revisions := listRevisions(t, tracker)
		require.Len(t, revisions, 1)
		assert.Equal(t, OperationCreate, revisions[0].Operation)
	})
}

func TestTrack_Migration(t *testing.T) {
	ctx := context.Background()
	o := newTestOrm(t)
	tracker, err := NewTracker(o, Options{EnableMigration: true})
	require.NoError(t, err)
	require.NoError(t, tracker.Sync(ctx))

	meta := userMeta()
	require.NoError(t, o.Migrator().CreateTable(ctx, meta))
	cols, err := o.Migrator().DescribeTable(ctx, "users")
	require.NoError(t, err)
	assert.NotContains(t, cols, "revision")

	users, err := o.Define(meta)
	require.NoError(t, err)
	tracked, err := tracker.TrackRevision(ctx, users)
	require.NoError(t, err)
	_, err = tracker.TrackRevision(ctx, tracked)
	require.NoError(t, err)

	cols, err = o.Migrator().DescribeTable(ctx, "users")
	require.NoError(t, err)
	assert.Contains(t, cols, "revision")

	rec := tracked.Build(map[string]any{"name": "x"})
	require.NoError(t, tracked.Create(ctx, rec))
	assert.Equal(t, int64(1), rec.Get("revision"))
}

func TestTrack_UUIDAndULIDKeys(t *testing.T) {
	ctx := context.Background()

	t.Run("uuid", func(t *testing.T) {
		_, users := setup(t, Options{PrimaryKeyType: KeyUUID, EnableRevisionChangeModel: true})
		rec := users.Build(map[string]any{"name": "x"})
		require.NoError(t, users.Create(ctx, rec))
		rev := RevisionOf(rec)
		id, ok := rev.ID.(string)
		require.True(t, ok)
		_, err := uuid.Parse(id)
		assert.NoError(t, err)
		assert.Equal(t, id, rev.Changes[0].RevisionID)
	})

	t.Run("ulid", func(t *testing.T) {
		tracker, users := setup(t, Options{PrimaryKeyType: KeyULID})
		rec := users.Build(map[string]any{"name": "x"})
		require.NoError(t, users.Create(ctx, rec))
		rec.Set("name", "y")
		require.NoError(t, users.Update(ctx, rec))

		revisions := listRevisions(t, tracker)
		require.Len(t, revisions, 2)
		first, err := ulid.Parse(revisions[0].ID.(string))
		require.NoError(t, err)
		second, err := ulid.Parse(revisions[1].ID.(string))
		require.NoError(t, err)
		assert.Equal(t, -1, first.Compare(second))
	})
}

func TestTrackedModel_Revisions(t *testing.T) {
	ctx := context.Background()
	_, users := setup(t, Options{})

	rec := users.Build(map[string]any{"name": "x"})
	require.NoError(t, users.Create(ctx, rec))
	other := users.Build(map[string]any{"name": "other"})
	require.NoError(t, users.Create(ctx, other))
	rec.Set("name", "y")
	require.NoError(t, users.Update(ctx, rec))

	history, err := users.Revisions(ctx, rec)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, int64(1), history[0].Revision)
	assert.Equal(t, int64(2), history[1].Revision)
}
