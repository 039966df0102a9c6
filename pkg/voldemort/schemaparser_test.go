package voldemort

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestParseSchemaTextPrimitive(t *testing.T) {
	schema, err := parseSchemaText(`"string"`)
	require.NoError(t, err)
	if diff := cmp.Diff(PrimitiveSchema("string"), schema); diff != "" {
		t.Fatalf("unexpected schema (-want +got):\n%s", diff)
	}
}

func TestParseSchemaTextAcceptsSingleQuotes(t *testing.T) {
	schema, err := parseSchemaText(`'int32'`)
	require.NoError(t, err)
	if diff := cmp.Diff(PrimitiveSchema("int32"), schema); diff != "" {
		t.Fatalf("unexpected schema (-want +got):\n%s", diff)
	}
}

func TestParseSchemaTextList(t *testing.T) {
	schema, err := parseSchemaText(`['int32']`)
	require.NoError(t, err)
	if diff := cmp.Diff(ListSchema(PrimitiveSchema("int32")), schema); diff != "" {
		t.Fatalf("unexpected schema (-want +got):\n%s", diff)
	}
}

func TestParseSchemaTextNestedMap(t *testing.T) {
	schema, err := parseSchemaText(`{"a": "int32", "b": ["string"]}`)
	require.NoError(t, err)
	want := MapSchema(map[string]*Schema{
		"a": PrimitiveSchema("int32"),
		"b": ListSchema(PrimitiveSchema("string")),
	})
	if diff := cmp.Diff(want, schema); diff != "" {
		t.Fatalf("unexpected schema (-want +got):\n%s", diff)
	}
}

func TestParseSchemaTextRejectsTrailingContent(t *testing.T) {
	_, err := parseSchemaText(`"string" garbage`)
	require.Error(t, err)
}

func TestParseSchemaTextRejectsUnterminatedList(t *testing.T) {
	_, err := parseSchemaText(`['int32'`)
	require.Error(t, err)
}

func TestParseSchemaTextRejectsUnterminatedMap(t *testing.T) {
	_, err := parseSchemaText(`{"a": "int32"`)
	require.Error(t, err)
}

func TestLooksLikeNone(t *testing.T) {
	require.True(t, looksLikeNone("none"))
	require.True(t, looksLikeNone(" None "))
	require.True(t, looksLikeNone("NONE"))
	require.False(t, looksLikeNone("0"))
	require.False(t, looksLikeNone(""))
}
