package command

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/IceFireDB/respkv/pkg/backend"
	"github.com/IceFireDB/respkv/pkg/resp"
)

func arrayOf(items ...resp.Frame) resp.Frame { return resp.NewArray(items) }

func bulk(s string) resp.Frame { return resp.NewBulkString([]byte(s)) }

func TestTryParseRejectsNonArray(t *testing.T) {
	_, err := TryParse(resp.NewSimpleString("GET"))
	require.Error(t, err)
	ce, ok := AsCommandError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidCommand, ce.Kind)
}

func TestTryParseRejectsEmptyArray(t *testing.T) {
	_, err := TryParse(arrayOf())
	require.Error(t, err)
}

func TestTryParseUnrecognizedVerb(t *testing.T) {
	cmd, err := TryParse(arrayOf(bulk("frobnicate"), bulk("x")))
	require.NoError(t, err)
	assert.Equal(t, Unrecognized, cmd.Verb)
}

func TestGetEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	cmd, err := TryParse(arrayOf(bulk("GET"), bulk("key")))
	require.NoError(t, err)
	assert.Equal(t, Get, cmd.Verb)
	assert.Equal(t, "key", cmd.Key)

	got := Execute(cmd, store)
	assert.True(t, got.IsNull())

	store.Set("key", bulk("value"))
	got = Execute(cmd, store)
	assert.Equal(t, "value", string(got.Bulk))
}

func TestSetEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	cmd, err := TryParse(arrayOf(bulk("set"), bulk("key"), bulk("value")))
	require.NoError(t, err)

	got := Execute(cmd, store)
	assert.Equal(t, resp.NewSimpleString("OK"), got)

	v, ok := store.Get("key")
	require.True(t, ok)
	assert.Equal(t, "value", string(v.Bulk))
}

func TestSetArityError(t *testing.T) {
	_, err := TryParse(arrayOf(bulk("set"), bulk("key")))
	require.Error(t, err)
	ce, ok := AsCommandError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidCommand, ce.Kind)
	assert.Equal(t, "Command args not equal, expect: 2, got: 1", ce.Msg)
}

func TestHGetHSetEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	setCmd, err := TryParse(arrayOf(bulk("hset"), bulk("map"), bulk("field"), bulk("v1")))
	require.NoError(t, err)
	assert.Equal(t, resp.NewSimpleString("OK"), Execute(setCmd, store))

	getCmd, err := TryParse(arrayOf(bulk("hget"), bulk("map"), bulk("field")))
	require.NoError(t, err)
	got := Execute(getCmd, store)
	assert.Equal(t, "v1", string(got.Bulk))

	missCmd, err := TryParse(arrayOf(bulk("hget"), bulk("map"), bulk("nope")))
	require.NoError(t, err)
	assert.True(t, Execute(missCmd, store).IsNull())
}

func TestHMGetEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	store.HSet("map", "f1", bulk("v1"))
	store.HSet("map", "f2", bulk("v2"))

	cmd, err := TryParse(arrayOf(bulk("hmget"), bulk("map"), bulk("f1"), bulk("missing"), bulk("f2")))
	require.NoError(t, err)
	assert.Equal(t, HMGet, cmd.Verb)
	assert.Equal(t, []string{"f1", "missing", "f2"}, cmd.Fields)

	got := Execute(cmd, store)
	require.Equal(t, resp.Array, got.Kind)
	require.Len(t, got.Array, 3)
	assert.Equal(t, "v1", string(got.Array[0].Bulk))
	assert.True(t, got.Array[1].IsNull())
	assert.Equal(t, "v2", string(got.Array[2].Bulk))
}

func TestHMGetArityRequiresAtLeastOneField(t *testing.T) {
	_, err := TryParse(arrayOf(bulk("hmget"), bulk("map")))
	require.Error(t, err)
}

func TestSAddEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	cmd, err := TryParse(arrayOf(bulk("sadd"), bulk("set"), bulk("m1"), bulk("m2"), bulk("m1")))
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2", "m1"}, cmd.Members)

	got := Execute(cmd, store)
	assert.Equal(t, resp.NewInteger(2), got)

	second := Execute(cmd, store)
	assert.Equal(t, resp.NewInteger(0), second)
}

func TestSIsMemberEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	store.SAdd("set", "m1")

	cmd, err := TryParse(arrayOf(bulk("sismember"), bulk("set"), bulk("m1")))
	require.NoError(t, err)
	assert.Equal(t, resp.NewInteger(1), Execute(cmd, store))

	cmd, err = TryParse(arrayOf(bulk("sismember"), bulk("set"), bulk("m2")))
	require.NoError(t, err)
	assert.Equal(t, resp.NewInteger(0), Execute(cmd, store))
}

func TestEchoReturnsArgumentFrameVerbatim(t *testing.T) {
	store := backend.NewWithShards(4)
	cmd, err := TryParse(arrayOf(bulk("echo"), resp.NewInteger(7)))
	require.NoError(t, err)
	assert.Equal(t, resp.NewInteger(7), Execute(cmd, store))
}

func TestDelEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	store.Set("key", bulk("v"))

	cmd, err := TryParse(arrayOf(bulk("del"), bulk("key")))
	require.NoError(t, err)
	assert.Equal(t, resp.NewInteger(1), Execute(cmd, store))
	assert.Equal(t, resp.NewInteger(0), Execute(cmd, store))
}

func TestTypeEndToEnd(t *testing.T) {
	store := backend.NewWithShards(4)
	store.SAdd("key", "m")

	cmd, err := TryParse(arrayOf(bulk("type"), bulk("key")))
	require.NoError(t, err)
	got := Execute(cmd, store)
	assert.Equal(t, resp.NewSimpleString("set"), got)
}

func TestVerbIsCaseInsensitive(t *testing.T) {
	cmd, err := TryParse(arrayOf(bulk("GeT"), bulk("key")))
	require.NoError(t, err)
	assert.Equal(t, Get, cmd.Verb)
}

func TestCommandNameMustBeStringifiable(t *testing.T) {
	_, err := TryParse(arrayOf(resp.NewInteger(1), bulk("key")))
	require.Error(t, err)
	ce, ok := AsCommandError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidArgument, ce.Kind)
}

func TestKeyMustBeStringifiable(t *testing.T) {
	_, err := TryParse(arrayOf(bulk("get"), arrayOf(bulk("nested"))))
	require.Error(t, err)
	ce, ok := AsCommandError(err)
	require.True(t, ok)
	assert.Equal(t, KindInvalidArgument, ce.Kind)
}
