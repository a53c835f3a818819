package cvmask

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResizer(t *testing.T) {
	mask := make([]uint8, 8*8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 4; x++ {
			mask[y*8+x] = 255
		}
	}

	out, err := Resizer{}.Resize(mask, 8, 8, 4, 2)
	require.NoError(t, err)
	require.Len(t, out, 8)
	for y := 0; y < 2; y++ {
		assert.Equal(t, []uint8{255, 255, 0, 0}, out[y*4:y*4+4])
	}
	for _, v := range out {
		assert.Contains(t, []uint8{0, 255}, v)
	}
}

func TestResizer_BadInput(t *testing.T) {
	_, err := Resizer{}.Resize(make([]uint8, 10), 4, 4, 2, 2)
	assert.Error(t, err)

	_, err = Resizer{}.Resize(make([]uint8, 16), 4, 4, 0, 2)
	assert.Error(t, err)
}
