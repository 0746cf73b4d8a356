package orm

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func userMeta() *ModelMeta {
	return &ModelMeta{
		Name:  "User",
		Table: "users",
		Fields: []FieldMeta{
			{Name: "id", Type: FieldBigInt, PrimaryKey: true, AutoIncrement: true},
			{Name: "name", Type: FieldString},
			{Name: "version", Type: FieldInteger},
		},
	}
}

func TestDocument_OrderedJSON(t *testing.T) {
	d := NewDocument().Set("name", "x").Set("version", 1).Set("a", nil)
	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"name":"x","version":1,"a":null}`, string(data))

	var back Document
	require.NoError(t, json.Unmarshal([]byte(`{"z":1,"b":{"y":2},"a":[1,2]}`), &back))
	assert.Equal(t, []string{"z", "b", "a"}, back.Keys())
	v, ok := back.Get("b")
	require.True(t, ok)
	assert.Equal(t, map[string]any{"y": float64(2)}, v)

	assert.Error(t, json.Unmarshal([]byte(`[1]`), &back))
}

func TestDocument_DeletePickClone(t *testing.T) {
	d := DocumentFromMap(map[string]any{"b": 2, "a": 1, "c": 3})
	assert.Equal(t, []string{"a", "b", "c"}, d.Keys())

	c := d.Clone()
	c.Delete("b")
	assert.Equal(t, 3, d.Len())
	assert.Equal(t, []string{"a", "c"}, c.Keys())

	p := d.Pick("c", "missing", "a")
	assert.Equal(t, []string{"c", "a"}, p.Keys())
	assert.Equal(t, map[string]any{"a": 1, "c": 3}, p.Map())
}

func TestRecord_NewAndChanged(t *testing.T) {
	rec := NewRecord(userMeta(), map[string]any{"version": 1, "name": "x", "extra": true})
	assert.True(t, rec.IsNewRecord())
	assert.Equal(t, []string{"name", "version", "extra"}, rec.Document().Keys())
	assert.Equal(t, []string{"name", "version", "extra"}, rec.Changed())
	assert.Zero(t, rec.PreviousDocument().Len())

	rec.MarkPersisted()
	assert.False(t, rec.IsNewRecord())
	assert.Empty(t, rec.Changed())

	rec.Set("name", "y")
	assert.Equal(t, []string{"name"}, rec.Changed())
	assert.True(t, rec.IsChanged("name"))
	prev, ok := rec.Previous("name")
	require.True(t, ok)
	assert.Equal(t, "x", prev)

	_, ok = rec.Lookup("id")
	assert.False(t, ok, "unset attribute must not be present")
	rec.Set("id", nil)
	_, ok = rec.Lookup("id")
	assert.True(t, ok, "nil value is still present")
}

func TestRecord_RestorePersisted(t *testing.T) {
	rec := NewRecord(userMeta(), map[string]any{"name": "x"})
	persisted, wasNew := rec.PreviousDocument(), rec.IsNewRecord()

	rec.MarkPersisted()
	require.False(t, rec.IsNewRecord())
	require.Empty(t, rec.Changed())

	rec.RestorePersisted(persisted, wasNew)
	assert.True(t, rec.IsNewRecord())
	assert.Equal(t, []string{"name"}, rec.Changed())
	assert.Equal(t, "x", rec.Get("name"), "current values are kept")

	rec.MarkPersisted()
	snapshot := rec.PreviousDocument()
	rec.Set("name", "y")
	rec.MarkPersisted()
	rec.RestorePersisted(snapshot, false)
	assert.Equal(t, []string{"name"}, rec.Changed())
	prev, ok := rec.Previous("name")
	require.True(t, ok)
	assert.Equal(t, "x", prev)

	rec.RestorePersisted(nil, true)
	assert.Zero(t, rec.PreviousDocument().Len())
}

func TestRecord_PrimaryKeyAndContext(t *testing.T) {
	meta := &ModelMeta{
		Name: "Setting",
		Fields: []FieldMeta{
			{Name: "project_id", PrimaryKey: true},
			{Name: "key", PrimaryKey: true},
			{Name: "value"},
		},
	}
	rec := NewRecord(meta, map[string]any{"key": "theme", "project_id": 7, "value": "dark"})
	assert.Equal(t, []string{"project_id", "key"}, rec.PrimaryKey().Keys())

	rec.Context()["delta"] = 1
	assert.Equal(t, 1, rec.Context()["delta"])
	assert.Equal(t, []string{"project_id", "key", "value"}, rec.Document().Keys(), "transient slots are not attributes")
}

func TestModelMeta_Helpers(t *testing.T) {
	meta := userMeta()
	assert.True(t, meta.AddField(FieldMeta{Name: "revision", Type: FieldInteger, Nullable: true}))
	assert.False(t, meta.AddField(FieldMeta{Name: "revision"}))
	assert.Equal(t, []string{"id", "name", "version", "revision"}, meta.AttributeNames())

	meta.AddAssociation(AssociationMeta{Name: "Revisions", Kind: AssociationHasMany, Target: "Revision"})
	meta.AddAssociation(AssociationMeta{Name: "Revisions", Kind: AssociationHasMany, Target: "Revision", ForeignKey: "documentId"})
	require.Len(t, meta.Associations, 1)
	a, ok := meta.Association("Revisions")
	require.True(t, ok)
	assert.Equal(t, "documentId", a.ForeignKey)

	clone := meta.Clone()
	clone.AddField(FieldMeta{Name: "other"})
	assert.False(t, meta.HasField("other"))

	f, ok := meta.FieldByColumn("version")
	require.True(t, ok)
	assert.Equal(t, FieldInteger, f.Type)
	assert.Equal(t, "users", meta.TableName())
}

func TestToSnakeCase(t *testing.T) {
	cases := map[string]string{
		"documentId":     "document_id",
		"RevisionChange": "revision_change",
		"userID":         "user_id",
		"createdAt":      "created_at",
		"already_snake":  "already_snake",
	}
	for in, want := range cases {
		assert.Equal(t, want, ToSnakeCase(in), in)
	}
}

func TestWriteOptions(t *testing.T) {
	sess := IOrmSession(nil)
	w := CollectWriteOptions(
		WithSession(sess),
		WithValues(map[string]any{"version": 2, "name": "b"}),
		WithOption("noRevision", true),
	)
	assert.Nil(t, w.Session)
	assert.Equal(t, []string{"name", "version"}, w.PayloadFields(userMeta()))
	v, ok := w.Option("noRevision")
	assert.True(t, ok)
	assert.Equal(t, true, v)

	w = CollectWriteOptions(WithFields("version", "version", "name"))
	assert.Equal(t, []string{"version", "name"}, w.PayloadFields(userMeta()))
}

func TestQueryOptions(t *testing.T) {
	q := CollectQueryOptions(
		WithEquals("model", "User"),
		WithOrder("revision", true),
		WithLimit(0),
		WithLimit(5),
		WithWhere(""),
	)
	require.Len(t, q.Equals, 1)
	assert.Equal(t, "model", q.Equals[0].Attribute)
	assert.Equal(t, []OrderBy{{Column: "revision", Desc: true}}, q.Order)
	assert.Equal(t, 5, q.Limit)
	assert.Empty(t, q.Where)
}

func TestCapabilities(t *testing.T) {
	caps := NewCapabilities(CapabilityBasicCRUD, CapabilityUpsert)
	assert.True(t, caps.Supports(CapabilityUpsert))
	assert.False(t, caps.Supports(CapabilityMigration))
	assert.False(t, Capabilities(nil).Supports(CapabilityBasicCRUD))
	assert.Equal(t, []Capability{CapabilityMigration, CapabilityTransaction},
		caps.Missing(CapabilityTransaction, CapabilityUpsert, CapabilityMigration))
	assert.Empty(t, caps.Missing(CapabilityBasicCRUD))
	assert.Equal(t, "basic_crud,upsert", caps.String())
}
