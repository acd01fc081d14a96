package bytesize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseByteSize(t *testing.T) {
	tests := []struct {
		input string
		want  ByteSize
	}{
		{"0", 0},
		{"1024", 1024},
		{"1024B", 1024},
		{"1024b", 1024},
		{"1Ki", KiB},
		{"1KiB", KiB},
		{"64Mi", 64 * MiB},
		{"64MiB", 64 * MiB},
		{"1Gi", GiB},
		{"1gib", GiB},
		{"2Ti", 2 * TiB},
		{"1K", KB},
		{"100MB", 100 * MB},
		{"1G", GB},
		{"1TB", TB},
		{"  1Gi", GiB},
		{"1Gi  ", GiB},
		{"1 Gi", GiB},
		{"1.5Mi", ByteSize(1.5 * float64(MiB))},
		{"0.5Gi", 512 * MiB},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseByteSize(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseByteSizeErrors(t *testing.T) {
	for _, input := range []string{"", "   ", "abc", "Mi", "10XB", "1.2.3Mi", "-5Mi", "99999999999999999999"} {
		t.Run(input, func(t *testing.T) {
			_, err := ParseByteSize(input)
			assert.Error(t, err)
		})
	}
}

func TestUnmarshalText(t *testing.T) {
	var b ByteSize
	require.NoError(t, b.UnmarshalText([]byte("256Mi")))
	assert.Equal(t, 256*MiB, b)

	assert.Error(t, b.UnmarshalText([]byte("lots")))
	assert.Equal(t, 256*MiB, b, "failed unmarshal leaves value untouched")
}

func TestMarshalTextRoundTrips(t *testing.T) {
	for _, size := range []ByteSize{0, 1000, KiB, 3 * MiB, 5 * GiB, 1536} {
		text, err := size.MarshalText()
		require.NoError(t, err)

		back, err := ParseByteSize(string(text))
		require.NoError(t, err)
		assert.Equal(t, size, back, string(text))
	}

	text, _ := (64 * MiB).MarshalText()
	assert.Equal(t, "64Mi", string(text))
}

func TestString(t *testing.T) {
	assert.Equal(t, "512B", ByteSize(512).String())
	assert.Equal(t, "1.00KiB", KiB.String())
	assert.Equal(t, "1.50MiB", ByteSize(1536*KiB).String())
	assert.Equal(t, "2.00GiB", (2 * GiB).String())
	assert.Equal(t, "1.00TiB", TiB.String())
}
