package fragment

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlatten_Leaf(t *testing.T) {
	got, err := Flatten(NewString("1.2.3"))
	require.NoError(t, err)
	assert.Equal(t, "1.2.3", got)
}

func TestFlatten_ArrayPreservesOrder(t *testing.T) {
	arr := NewArray(NewString("a"), NewString("b"), NewString("c"))

	got, err := Flatten(arr)
	require.NoError(t, err)

	want := []any{"a", "b", "c"}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flattened array mismatch (-want +got):\n%s", diff)
	}
}

func TestFlatten_RecordPreservesKeySet(t *testing.T) {
	rec := NewRecord()
	rec.Set("rule", NewString("http_archive"))
	rec.Set("name", NewString("rules_go"))
	rec.Set("urls", NewArray(NewString("https://example.com/a.tar.gz")))

	got, err := Flatten(rec)
	require.NoError(t, err)

	want := map[string]any{
		"rule": "http_archive",
		"name": "rules_go",
		"urls": []any{"https://example.com/a.tar.gz"},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flattened record mismatch (-want +got):\n%s", diff)
	}
}

func TestFlatten_Nested(t *testing.T) {
	inner := NewRecord()
	inner.Set("tag", NewString("v1.0.0"))

	rec := NewRecord()
	rec.Set("name", NewString("dep"))
	rec.Set("meta", inner)
	rec.Set("mirrors", NewArray(NewString("x"), NewArray(NewString("y"))))

	got, err := Flatten(rec)
	require.NoError(t, err)

	want := map[string]any{
		"name":    "dep",
		"meta":    map[string]any{"tag": "v1.0.0"},
		"mirrors": []any{"x", []any{"y"}},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("flattened tree mismatch (-want +got):\n%s", diff)
	}
}

func TestFlatten_AlreadyFlatIsIdentity(t *testing.T) {
	cases := []struct {
		name string
		in   any
	}{
		{"string", "plain"},
		{"slice", []any{"a", "b"}},
		{"map", map[string]any{"k": "v", "list": []any{"1"}}},
		{"nil", nil},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Flatten(tc.in)
			require.NoError(t, err)
			if diff := cmp.Diff(tc.in, got); diff != "" {
				t.Errorf("identity violated (-want +got):\n%s", diff)
			}
		})
	}
}

func TestFlatten_DepthCeiling(t *testing.T) {
	var node Fragment = NewString("leaf")
	for i := 0; i < MaxDepth+10; i++ {
		node = NewArray(node)
	}

	_, err := Flatten(node)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrTooDeep))
}

func TestFlatten_DepthCeilingNotHitByWideInput(t *testing.T) {
	// Width must never trip the depth guard.
	items := make([]Fragment, 10_000)
	for i := range items {
		items[i] = NewString("x")
	}

	got, err := Flatten(NewArray(items...))
	require.NoError(t, err)
	assert.Len(t, got, 10_000)
}

func TestFlatten_UnknownTypeRejected(t *testing.T) {
	_, err := Flatten(42)
	assert.Error(t, err)
}

func TestRecord_SetReplacesInPlace(t *testing.T) {
	rec := NewRecord()
	rec.Set("a", NewString("1"))
	rec.Set("b", NewString("2"))
	rec.Set("a", NewString("3"))

	assert.Equal(t, []string{"a", "b"}, rec.Keys())
	assert.Equal(t, 2, rec.Len())

	v, ok := rec.Get("a")
	require.True(t, ok)
	assert.Equal(t, "3", v.(*String).Value)
}

func TestRecord_GetMissing(t *testing.T) {
	rec := NewRecord()
	_, ok := rec.Get("absent")
	assert.False(t, ok)
}
