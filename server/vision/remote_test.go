package vision

import (
	"encoding/binary"
	"encoding/json"
	"io"
	"math"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/cyclopcam/logs"
	"github.com/stretchr/testify/require"
)

func TestRemoteInferencer(t *testing.T) {
	var gotTensor []float32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/info":
			json.NewEncoder(w).Encode(remoteInfo{InputWidth: 2, InputHeight: 2})
		case "/forward":
			body, err := io.ReadAll(r.Body)
			require.NoError(t, err)
			gotTensor = make([]float32, len(body)/4)
			for i := range gotTensor {
				gotTensor[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
			}
			json.NewEncoder(w).Encode([][]float32{{1, 2, 3, 4, 0.9, 0.8}})
		default:
			w.WriteHeader(404)
		}
	}))
	defer srv.Close()

	m, err := NewRemoteInferencer(logs.NewTestingLog(t), srv.URL)
	require.NoError(t, err)
	defer m.Close()

	w, h := m.InputSize()
	require.Equal(t, 2, w)
	require.Equal(t, 2, h)

	rows, err := m.Forward([]float32{0.5, 0.25, 1, 0})
	require.NoError(t, err)
	require.Equal(t, [][]float32{{1, 2, 3, 4, 0.9, 0.8}}, rows)
	require.Equal(t, []float32{0.5, 0.25, 1, 0}, gotTensor)
}

func TestRemoteInferencerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/info" {
			json.NewEncoder(w).Encode(remoteInfo{InputWidth: 4, InputHeight: 4})
			return
		}
		w.WriteHeader(503)
	}))
	defer srv.Close()

	m, err := NewRemoteInferencer(logs.NewTestingLog(t), srv.URL)
	require.NoError(t, err)
	_, err = m.Forward(make([]float32, 48))
	require.ErrorIs(t, err, ErrInference)

	srv.Close()
	_, err = m.Forward(make([]float32, 48))
	require.ErrorIs(t, err, ErrInference)

	_, err = NewRemoteInferencer(logs.NewTestingLog(t), srv.URL)
	require.Error(t, err)
}

func TestLoadModelUnknownRef(t *testing.T) {
	_, err := LoadModel(logs.NewTestingLog(t), "model.onnx")
	require.Error(t, err)
}
