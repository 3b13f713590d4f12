package projection

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"slices"

	"github.com/goccy/go-json"
)

// Tensor names in a projection checkpoint. They match the state dict of a
// tower whose network is Sequential(Linear, ReLU, Dropout, Linear).
const (
	tensorW1 = "projection.layers.0.weight"
	tensorB1 = "projection.layers.0.bias"
	tensorW2 = "projection.layers.3.weight"
	tensorB2 = "projection.layers.3.bias"
)

// maxHeaderSize bounds the JSON header of a checkpoint file.
const maxHeaderSize = 16 << 20

type tensorInfo struct {
	DType       string `json:"dtype"`
	Shape       []int  `json:"shape"`
	DataOffsets [2]int `json:"data_offsets"`
}

// LoadCheckpoint reads a safetensors file holding F32 projection weights and
// checks them against shape.
func LoadCheckpoint(path string, shape Shape) (*Projector, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading checkpoint: %w", err)
	}
	if len(raw) < 8 {
		return nil, fmt.Errorf("checkpoint %s: file too short", path)
	}
	n := binary.LittleEndian.Uint64(raw[:8])
	if n > maxHeaderSize || int(n) > len(raw)-8 {
		return nil, fmt.Errorf("checkpoint %s: header size %d out of range", path, n)
	}

	var header map[string]json.RawMessage
	if err := json.Unmarshal(raw[8:8+n], &header); err != nil {
		return nil, fmt.Errorf("checkpoint %s: decode header: %w", path, err)
	}
	data := raw[8+n:]

	tensor := func(name string, dims ...int) ([]float32, error) {
		msg, ok := header[name]
		if !ok {
			return nil, fmt.Errorf("checkpoint %s: missing tensor %s", path, name)
		}
		var info tensorInfo
		if err := json.Unmarshal(msg, &info); err != nil {
			return nil, fmt.Errorf("checkpoint %s: tensor %s: %w", path, name, err)
		}
		if info.DType != "F32" {
			return nil, fmt.Errorf("checkpoint %s: tensor %s has dtype %s, want F32", path, name, info.DType)
		}
		if !slices.Equal(info.Shape, dims) {
			return nil, fmt.Errorf("checkpoint %s: tensor %s has shape %v, want %v", path, name, info.Shape, dims)
		}
		begin, end := info.DataOffsets[0], info.DataOffsets[1]
		want := 4
		for _, d := range dims {
			want *= d
		}
		if begin < 0 || end > len(data) || end-begin != want {
			return nil, fmt.Errorf("checkpoint %s: tensor %s has bad data offsets [%d, %d]", path, name, begin, end)
		}
		out := make([]float32, want/4)
		for i := range out {
			out[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[begin+i*4:]))
		}
		return out, nil
	}

	p := &Projector{shape: shape}
	if p.w1, err = tensor(tensorW1, shape.Hidden, shape.Input); err != nil {
		return nil, err
	}
	if p.b1, err = tensor(tensorB1, shape.Hidden); err != nil {
		return nil, err
	}
	if p.w2, err = tensor(tensorW2, shape.Output, shape.Hidden); err != nil {
		return nil, err
	}
	if p.b2, err = tensor(tensorB2, shape.Output); err != nil {
		return nil, err
	}
	return p, nil
}

// SaveCheckpoint writes p to path in the safetensors layout LoadCheckpoint
// reads. The file is replaced atomically.
func SaveCheckpoint(path string, p *Projector, metadata map[string]string) error {
	tensors := []struct {
		name  string
		shape []int
		data  []float32
	}{
		{tensorW1, []int{p.shape.Hidden, p.shape.Input}, p.w1},
		{tensorB1, []int{p.shape.Hidden}, p.b1},
		{tensorW2, []int{p.shape.Output, p.shape.Hidden}, p.w2},
		{tensorB2, []int{p.shape.Output}, p.b2},
	}

	header := make(map[string]any, len(tensors)+1)
	if len(metadata) > 0 {
		header["__metadata__"] = metadata
	}
	var body []byte
	for _, t := range tensors {
		begin := len(body)
		for _, f := range t.data {
			body = binary.LittleEndian.AppendUint32(body, math.Float32bits(f))
		}
		header[t.name] = tensorInfo{DType: "F32", Shape: t.shape, DataOffsets: [2]int{begin, len(body)}}
	}

	hdr, err := json.Marshal(header)
	if err != nil {
		return fmt.Errorf("encoding checkpoint header: %w", err)
	}
	// Pad the header so the data section is 8-byte aligned.
	for (len(hdr)+8)%8 != 0 {
		hdr = append(hdr, ' ')
	}

	buf := binary.LittleEndian.AppendUint64(nil, uint64(len(hdr)))
	buf = append(buf, hdr...)
	buf = append(buf, body...)

	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("creating checkpoint directory: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, buf, 0600); err != nil {
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("writing checkpoint: %w", err)
	}
	return nil
}
