package descriptor

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecode(t *testing.T) {
	tests := []struct {
		name string
		in   Descriptor
		want string
	}{
		{"full", Descriptor{"a.zip", "https://example.com/a.zip", "/data"}, "a.zip,https://example.com/a.zip,/data"},
		{"empty destination", Descriptor{"b.iso", "http://host/b.iso", ""}, "b.iso,http://host/b.iso,"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			encoded := Encode(tt.in)
			assert.Equal(t, tt.want, encoded)

			decoded, err := Decode(encoded)
			require.NoError(t, err)
			assert.Equal(t, tt.in, decoded)
		})
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, s := range []string{"", "only-name", "a,b", "a,b,c,d"} {
		_, err := Decode(s)
		assert.ErrorIs(t, err, ErrMalformed, "input %q", s)
	}
}
