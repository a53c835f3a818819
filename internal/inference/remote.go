package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// RemoteEncoder computes image embeddings on an HTTP embedding server. The
// server accepts {"data": HxWx3 pixels} at POST /image and answers with the
// embedding as nested arrays.
type RemoteEncoder struct {
	URL    string
	Client *http.Client
}

// RemoteOpener opens RemoteEncoder sessions; the model path is the server URL.
type RemoteOpener struct {
	Timeout time.Duration
}

func (o RemoteOpener) Open(path string, _ Provider) (Session, error) {
	timeout := o.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &RemoteEncoder{URL: strings.TrimRight(path, "/"), Client: &http.Client{Timeout: timeout}}, nil
}

type remoteRequest struct {
	Data [][][3]uint8 `json:"data"`
}

// Run posts the single uint8 HxWx4 input and returns "image_embeddings".
func (r *RemoteEncoder) Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error) {
	var raster *Tensor
	for _, t := range inputs {
		if t.Type == Uint8 && len(t.Shape) == 3 && t.Shape[2] == 4 {
			raster = t
		}
	}
	if raster == nil {
		return nil, fmt.Errorf("remote encoder needs an HxWx4 uint8 input")
	}

	h, w := int(raster.Shape[0]), int(raster.Shape[1])
	req := remoteRequest{Data: make([][][3]uint8, h)}
	for y := 0; y < h; y++ {
		row := make([][3]uint8, w)
		for x := 0; x < w; x++ {
			i := (y*w + x) * 4
			row[x] = [3]uint8{raster.Uint8[i], raster.Uint8[i+1], raster.Uint8[i+2]}
		}
		req.Data[y] = row
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, r.URL+"/image", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := r.Client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("embedding request: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding server returned %s: %s", resp.Status, bytes.TrimSpace(msg))
	}

	var nested interface{}
	if err := json.NewDecoder(resp.Body).Decode(&nested); err != nil {
		return nil, fmt.Errorf("decode embedding: %w", err)
	}
	shape, data, err := flatten(nested)
	if err != nil {
		return nil, err
	}
	t, err := NewFloat32(shape, data)
	if err != nil {
		return nil, err
	}
	return map[string]*Tensor{"image_embeddings": t}, nil
}

func (r *RemoteEncoder) Release() error {
	r.Client.CloseIdleConnections()
	return nil
}

// flatten turns nested JSON number arrays into a shape and row-major data.
func flatten(v interface{}) ([]int64, []float32, error) {
	var shape []int64
	for cur := v; ; {
		arr, ok := cur.([]interface{})
		if !ok {
			break
		}
		shape = append(shape, int64(len(arr)))
		if len(arr) == 0 {
			break
		}
		cur = arr[0]
	}

	data := make([]float32, 0, NumElements(shape))
	var walk func(v interface{}, depth int) error
	walk = func(v interface{}, depth int) error {
		switch x := v.(type) {
		case float64:
			if depth != len(shape) {
				return fmt.Errorf("ragged embedding at depth %d", depth)
			}
			data = append(data, float32(x))
		case []interface{}:
			if depth >= len(shape) || int64(len(x)) != shape[depth] {
				return fmt.Errorf("ragged embedding at depth %d", depth)
			}
			for _, e := range x {
				if err := walk(e, depth+1); err != nil {
					return err
				}
			}
		default:
			return fmt.Errorf("unexpected %T in embedding", v)
		}
		return nil
	}
	if err := walk(v, 0); err != nil {
		return nil, nil, err
	}
	return shape, data, nil
}
