package bytesize_test

import (
	"testing"

	"github.com/istgtd/istgtd/internal/bytesize"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	cases := []struct {
		in   string
		want bytesize.ByteSize
	}{
		{"1024", 1024},
		{"8Ki", 8 * bytesize.KiB},
		{"1Mi", bytesize.MiB},
		{"256KB", 256 * bytesize.KB},
		{"1.5Ki", bytesize.ByteSize(1.5 * float64(bytesize.KiB))},
	}
	for _, tc := range cases {
		got, err := bytesize.ParseByteSize(tc.in)
		require.NoError(t, err, tc.in)
		assert.Equal(t, tc.want, got, tc.in)
	}
}

func TestParseByteSizeInvalid(t *testing.T) {
	_, err := bytesize.ParseByteSize("")
	assert.Error(t, err)

	_, err = bytesize.ParseByteSize("12Xi")
	assert.Error(t, err)
}
