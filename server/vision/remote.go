package vision

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"time"

	"github.com/cyclopcam/logs"
)

// RemoteInferencer runs the forward pass on an external inference service.
// The service owns the model weights and the accelerator hardware; we send
// it the preprocessed tensor and get detection rows back.
//
// Protocol:
//
//	GET  {base}/info    -> {"input_width": W, "input_height": H}
//	POST {base}/forward -> body is the raw float32 little-endian CHW tensor,
//	                       response is JSON [][]float32 detection rows
type RemoteInferencer struct {
	log     logs.Log
	baseURL string
	client  *http.Client
	width   int
	height  int
}

type remoteInfo struct {
	InputWidth  int `json:"input_width"`
	InputHeight int `json:"input_height"`
}

func NewRemoteInferencer(logger logs.Log, baseURL string) (*RemoteInferencer, error) {
	m := &RemoteInferencer{
		log:     logs.NewPrefixLogger(logger, "RemoteNN"),
		baseURL: baseURL,
		client:  &http.Client{Timeout: 30 * time.Second},
	}
	resp, err := m.client.Get(baseURL + "/info")
	if err != nil {
		return nil, fmt.Errorf("Failed to reach inference service at %v: %w", baseURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("Inference service at %v returned %v", baseURL, resp.Status)
	}
	info := remoteInfo{}
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return nil, fmt.Errorf("Invalid info response from %v: %w", baseURL, err)
	}
	if info.InputWidth <= 0 || info.InputHeight <= 0 {
		return nil, fmt.Errorf("Inference service at %v reports input size %vx%v", baseURL, info.InputWidth, info.InputHeight)
	}
	m.width = info.InputWidth
	m.height = info.InputHeight
	m.log.Infof("Connected to inference service %v (input %vx%v)", baseURL, m.width, m.height)
	return m, nil
}

func (m *RemoteInferencer) InputSize() (width, height int) {
	return m.width, m.height
}

func (m *RemoteInferencer) Forward(tensor []float32) ([][]float32, error) {
	body := make([]byte, len(tensor)*4)
	for i, v := range tensor {
		binary.LittleEndian.PutUint32(body[i*4:], math.Float32bits(v))
	}
	resp, err := m.client.Post(m.baseURL+"/forward", "application/octet-stream", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInference, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != 200 {
		return nil, fmt.Errorf("%w: inference service returned %v", ErrInference, resp.Status)
	}
	rows := [][]float32{}
	if err := json.NewDecoder(resp.Body).Decode(&rows); err != nil {
		return nil, fmt.Errorf("%w: invalid forward response: %v", ErrInference, err)
	}
	return rows, nil
}

func (m *RemoteInferencer) Close() {
	m.client.CloseIdleConnections()
}
