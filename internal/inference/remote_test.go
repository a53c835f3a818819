package inference

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRemoteEncoder(t *testing.T) {
	var got remoteRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/image", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`[[[1.5, 2], [3, 4]], [[5, 6], [7, 8]]]`))
	}))
	defer srv.Close()

	s, err := RemoteOpener{}.Open(srv.URL+"/", ProviderCPU)
	require.NoError(t, err)
	defer s.Release()

	raster, err := NewUint8([]int64{1, 2, 4}, []uint8{10, 20, 30, 255, 40, 50, 60, 255})
	require.NoError(t, err)

	out, err := s.Run(context.Background(), map[string]*Tensor{"input_image": raster})
	require.NoError(t, err)

	assert.Equal(t, [][][3]uint8{{{10, 20, 30}, {40, 50, 60}}}, got.Data)
	emb := out["image_embeddings"]
	require.NotNil(t, emb)
	assert.Equal(t, []int64{2, 2, 2}, emb.Shape)
	assert.Equal(t, []float32{1.5, 2, 3, 4, 5, 6, 7, 8}, emb.Float32)
}

func TestRemoteEncoder_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model offline", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	s, err := RemoteOpener{}.Open(srv.URL, ProviderCPU)
	require.NoError(t, err)
	raster, _ := NewUint8([]int64{1, 1, 4}, []uint8{0, 0, 0, 255})

	_, err = s.Run(context.Background(), map[string]*Tensor{"input_image": raster})
	assert.ErrorContains(t, err, "model offline")
}

func TestFlatten_Ragged(t *testing.T) {
	var v interface{}
	require.NoError(t, json.Unmarshal([]byte(`[[1, 2], [3]]`), &v))
	_, _, err := flatten(v)
	assert.Error(t, err)
}

func TestRoutingOpener(t *testing.T) {
	local := OpenerFunc(func(string, Provider) (Session, error) { return &fakeSession{}, nil })
	r := &RoutingOpener{Local: local, Remote: RemoteOpener{}}

	s, err := r.Open("https://embed.example", ProviderCUDA)
	require.NoError(t, err)
	assert.IsType(t, &RemoteEncoder{}, s)

	s, err = r.Open("models/enc.onnx", ProviderCUDA)
	require.NoError(t, err)
	assert.IsType(t, &fakeSession{}, s)
}
