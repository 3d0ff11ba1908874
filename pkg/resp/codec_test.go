package resp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodecFeedPipelined(t *testing.T) {
	c := NewCodec()
	defer c.Close()

	frames, err := c.Feed([]byte("*2\r\n$3\r\nget\r\n$3\r\nkey\r\n*2\r\n$4\r\necho\r\n$2\r\nhi\r\n"))
	require.NoError(t, err)
	require.Len(t, frames, 2)
	assert.Equal(t, "get", string(frames[0].Array[0].Bulk))
	assert.Equal(t, "echo", string(frames[1].Array[0].Bulk))
}

func TestCodecFeedSplitAcrossCalls(t *testing.T) {
	c := NewCodec()
	defer c.Close()

	frames, err := c.Feed([]byte("*3\r\n$3\r\nset\r\n$3\r\nkey\r\n"))
	require.NoError(t, err)
	assert.Empty(t, frames)

	frames, err = c.Feed([]byte("$5\r\nhello\r\n"))
	require.NoError(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "set", string(frames[0].Array[0].Bulk))
	assert.Equal(t, "hello", string(frames[0].Array[2].Bulk))
}

func TestCodecFeedFatalErrorKeepsPriorFrames(t *testing.T) {
	c := NewCodec()
	defer c.Close()

	frames, err := c.Feed([]byte("*1\r\n$4\r\nping\r\n@bogus\r\n"))
	require.Error(t, err)
	require.Len(t, frames, 1)
	assert.Equal(t, "ping", string(frames[0].Array[0].Bulk))
}

func TestCodecWriteSide(t *testing.T) {
	c := NewCodec()
	defer c.Close()

	c.Put(NewSimpleString("OK"))
	c.Put(NewBulkString([]byte("hello")))
	out := c.Take()
	assert.Equal(t, []byte("+OK\r\n$5\r\nhello\r\n"), out)
	assert.Nil(t, c.Take())
}
