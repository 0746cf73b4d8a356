package ambient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNamespace_WithAndGet(t *testing.T) {
	ns := CreateNamespace("ambient-test-with")
	defer DestroyNamespace(ns.Name())

	ctx := context.Background()
	assert.False(t, ns.Active(ctx))

	child := ns.With(ctx, "userId", 7)
	v, ok := ns.Get(child, "userId")
	require.True(t, ok)
	assert.Equal(t, 7, v)
	assert.True(t, ns.Active(child))

	_, ok = ns.Get(ctx, "userId")
	assert.False(t, ok, "parent context must not see child values")

	grandchild := ns.With(child, "metaData", map[string]any{"ip": "127.0.0.1"})
	v, _ = ns.Get(grandchild, "userId")
	assert.Equal(t, 7, v)
	_, ok = ns.Get(child, "metaData")
	assert.False(t, ok)
}

func TestNamespace_Isolation(t *testing.T) {
	a := CreateNamespace("ambient-test-a")
	b := CreateNamespace("ambient-test-b")
	defer DestroyNamespace("ambient-test-a")
	defer DestroyNamespace("ambient-test-b")

	ctx := a.With(context.Background(), "userId", 1)
	_, ok := b.Get(ctx, "userId")
	assert.False(t, ok)
}

func TestNamespace_Run(t *testing.T) {
	ns := CreateNamespace("ambient-test-run")
	defer DestroyNamespace(ns.Name())

	var seen any
	err := ns.Run(context.Background(), map[string]any{"userId": "u1"}, func(ctx context.Context) error {
		seen, _ = ns.Get(ctx, "userId")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", seen)
}

func TestRegistry(t *testing.T) {
	ns := CreateNamespace("ambient-test-registry")
	assert.Same(t, ns, CreateNamespace("ambient-test-registry"))

	got, ok := GetNamespace("ambient-test-registry")
	require.True(t, ok)
	assert.Same(t, ns, got)

	DestroyNamespace("ambient-test-registry")
	_, ok = GetNamespace("ambient-test-registry")
	assert.False(t, ok)

	var _ Store = ns
}
