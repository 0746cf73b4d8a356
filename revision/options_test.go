package revision

import (
	stdErrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gorevision/data/db/dialect"
)

func TestResolveOptions_Defaults(t *testing.T) {
	o, err := resolveOptions(Options{}, dialect.New("sqlite"))
	require.NoError(t, err)

	assert.Equal(t, "revision", o.RevisionAttribute)
	assert.Equal(t, "revisionId", o.RevisionIDAttribute)
	assert.Equal(t, "Revisions", o.TableName)
	assert.Equal(t, "RevisionChanges", o.ChangeTableName)
	assert.Equal(t, KeySerial, o.PrimaryKeyType)
	assert.True(t, o.StrictDiff())
	assert.True(t, o.JSONDataType())
	assert.Equal(t, 1, o.ChangeSaveConcurrency)
	assert.Contains(t, o.Exclude, "revision")
	assert.Contains(t, o.Exclude, "deleted_at")
	assert.NotNil(t, o.Logger)
}

func TestResolveOptions_Overlay(t *testing.T) {
	o, err := resolveOptions(Options{
		Exclude:               []string{"secret"},
		RevisionAttribute:     "rev",
		PrimaryKeyType:        "ULID",
		Underscored:           true,
		UnderscoredAttributes: true,
		EnableStrictDiff:      Bool(false),
		RevisionModel:         "History",
	}, dialect.New("postgres"))
	require.NoError(t, err)

	assert.Equal(t, []string{"secret", "rev"}, o.Exclude)
	assert.Equal(t, KeyULID, o.PrimaryKeyType)
	assert.Equal(t, "histories", o.TableName)
	assert.Equal(t, "revision_changes", o.ChangeTableName)
	assert.Equal(t, "revision_id", o.RevisionIDAttribute)
	assert.Equal(t, "user_id", o.UserIDAttribute)
	assert.False(t, o.StrictDiff())
}

func TestResolveOptions_DialectWithoutJSON(t *testing.T) {
	o, err := resolveOptions(Options{UseJSONDataType: Bool(true)}, dialect.New("mssql"))
	require.NoError(t, err)
	assert.False(t, o.JSONDataType())

	o, err = resolveOptions(Options{UseJSONDataType: Bool(false)}, dialect.New("postgres"))
	require.NoError(t, err)
	assert.False(t, o.JSONDataType())
}

func TestResolveOptions_Invalid(t *testing.T) {
	cases := map[string]Options{
		"主键类型":  {PrimaryKeyType: "bigserial"},
		"表名":    {TableName: "bad table"},
		"元数据字段": {MetaDataFields: map[string]bool{"bad-field": true}},
		"并发":    {ChangeSaveConcurrency: -1},
	}
	for name, opts := range cases {
		name, opts := name, opts
		t.Run(name, func(t *testing.T) {
			_, err := resolveOptions(opts, dialect.New("sqlite"))
			require.Error(t, err)
			assert.True(t, stdErrors.Is(err, ErrConfiguration))
		})
	}
}

func TestPluralize(t *testing.T) {
	cases := map[string]string{
		"Revision":       "Revisions",
		"RevisionChange": "RevisionChanges",
		"History":        "Histories",
		"Key":            "Keys",
		"Box":            "Boxes",
	}
	for in, want := range cases {
		assert.Equal(t, want, pluralize(in), in)
	}
}
