package revision

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/data/orm"
	"gorevision/logging"
	"gorevision/revision/chardiff"
	"gorevision/revision/delta"
)

func TestDefineModels_Idempotent(t *testing.T) {
	ctx := context.Background()
	tracker, err := NewTracker(newTestOrm(t), Options{Logger: logging.NewNoopLogger()})
	require.NoError(t, err)

	rev, changes, err := tracker.DefineModels(ctx)
	require.NoError(t, err)
	assert.Nil(t, changes)

	again, _, err := tracker.DefineModels(ctx)
	require.NoError(t, err)
	assert.Same(t, rev, again)
	require.NoError(t, tracker.Sync(ctx))
	require.NoError(t, tracker.Sync(ctx))
}

func TestDefineModels_Schema(t *testing.T) {
	ctx := context.Background()
	tracker, err := NewTracker(newTestOrm(t), Options{
		EnableRevisionChangeModel: true,
		UseJSONDataType:           Bool(false),
		MetaDataFields:            map[string]bool{"tenant": true},
		Logger:                    logging.NewNoopLogger(),
	})
	require.NoError(t, err)

	rev, changes, err := tracker.DefineModels(ctx)
	require.NoError(t, err)
	require.NotNil(t, changes)

	meta := rev.Meta()
	assert.Equal(t, []string{
		"id", "model", "document", "operation", "documentId", "documentIds",
		"revision", "userId", "tenant", "createdAt", "updatedAt",
	}, meta.AttributeNames())

	id, _ := meta.Field("id")
	assert.Equal(t, orm.FieldBigInt, id.Type)
	assert.True(t, id.AutoIncrement)
	doc, _ := meta.Field("document")
	assert.Equal(t, orm.FieldText, doc.Type)
	tenant, _ := meta.Field("tenant")
	assert.True(t, tenant.Nullable)

	assoc, ok := meta.Association("Changes")
	require.True(t, ok)
	assert.Equal(t, orm.AssociationHasMany, assoc.Kind)
	assert.Equal(t, "revisionId", assoc.ForeignKey)
	assert.False(t, assoc.Constraints)

	back, ok := changes.Meta().Association("Revision")
	require.True(t, ok)
	assert.Equal(t, orm.AssociationBelongsTo, back.Kind)
}

func TestDefineModels_KeyTypes(t *testing.T) {
	for keyType, want := range map[PrimaryKeyType]orm.FieldType{
		KeyUUID: orm.FieldUUID,
		KeyULID: orm.FieldString,
	} {
		keyType, want := keyType, want
		t.Run(string(keyType), func(t *testing.T) {
			tracker, err := NewTracker(newTestOrm(t), Options{
				PrimaryKeyType:            keyType,
				EnableRevisionChangeModel: true,
				Logger:                    logging.NewNoopLogger(),
			})
			require.NoError(t, err)
			rev, changes, err := tracker.DefineModels(context.Background())
			require.NoError(t, err)

			id, _ := rev.Meta().Field("id")
			assert.Equal(t, want, id.Type)
			assert.NotNil(t, id.Default)
			ref, _ := changes.Meta().Field("revisionId")
			assert.Equal(t, want, ref.Type)
		})
	}
}

func TestNewULID_Monotonic(t *testing.T) {
	prev := newULID().(string)
	for i := 0; i < 100; i++ {
		next := newULID().(string)
		assert.Less(t, prev, next)
		prev = next
	}
}

func TestRevisionChange_Decode(t *testing.T) {
	c := &RevisionChange{
		Document: `{"kind":"E","path":["tags",1],"lhs":"a","rhs":"b"}`,
		Diff:     `[{"count":1,"removed":true,"value":"a"},{"count":1,"added":true,"value":"b"}]`,
	}
	change, err := c.Change()
	require.NoError(t, err)
	assert.Equal(t, delta.KindEdited, change.Kind)
	assert.Equal(t, []any{"tags", 1}, change.Path)

	segments, err := c.Segments()
	require.NoError(t, err)
	before, after := chardiff.Apply(segments)
	assert.Equal(t, "a", before)
	assert.Equal(t, "b", after)

	var generic []any
	require.NoError(t, json.Unmarshal([]byte(c.Diff.(string)), &generic))
	c.Diff = generic
	segments, err = c.Segments()
	require.NoError(t, err)
	assert.Len(t, segments, 2)
}
