package parquetutils

import (
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type row struct {
	Name  string `parquet:"name=name, type=BYTE_ARRAY, convertedtype=UTF8"`
	Count int64  `parquet:"name=count, type=INT64"`
}

func TestWriteReadAll(t *testing.T) {
	rows := []row{{Name: "a", Count: 1}, {Name: "b", Count: 2}, {Name: "c", Count: 3}}

	data, err := WriteAll(rows)
	require.NoError(t, err)
	assert.Equal(t, "PAR1", string(data[:4]))

	got, err := ReadAll[row](NewBufferFrom(data))
	require.NoError(t, err)
	assert.Equal(t, rows, got)
}

func TestBufferSeek(t *testing.T) {
	b := NewBuffer()
	_, err := b.Write([]byte("hello world"))
	require.NoError(t, err)

	pos, err := b.Seek(-5, io.SeekEnd)
	require.NoError(t, err)
	assert.EqualValues(t, 6, pos)

	out := make([]byte, 10)
	n, err := b.Read(out)
	require.NoError(t, err)
	assert.Equal(t, "world", string(out[:n]))

	_, err = b.Read(out)
	assert.ErrorIs(t, err, io.EOF)

	_, err = b.Seek(-100, io.SeekCurrent)
	assert.Error(t, err)
}
