package classifier

import (
	"fmt"
	"sync"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/zstd"
)

const (
	blobVersion = 1
	blobKind    = "softmax"
)

// envelope is the JSON document stored, zstd-compressed, as a model blob.
type envelope struct {
	Version int         `json:"version"`
	Kind    string      `json:"kind"`
	Labels  []string    `json:"labels"`
	Weights [][]float64 `json:"weights"`
	Bias    []float64   `json:"bias"`
}

var (
	zstdEncoderPool sync.Pool
	zstdDecoderPool sync.Pool
)

func getZstdEncoder() (*zstd.Encoder, error) {
	if v := zstdEncoderPool.Get(); v != nil {
		return v.(*zstd.Encoder), nil
	}
	return zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
}

func getZstdDecoder() (*zstd.Decoder, error) {
	if v := zstdDecoderPool.Get(); v != nil {
		return v.(*zstd.Decoder), nil
	}
	return zstd.NewReader(nil)
}

// Encode serializes m into a model blob.
func Encode(m *Softmax) ([]byte, error) {
	raw, err := json.Marshal(envelope{
		Version: blobVersion,
		Kind:    blobKind,
		Labels:  m.labels,
		Weights: m.weights,
		Bias:    m.bias,
	})
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}

	enc, err := getZstdEncoder()
	if err != nil {
		return nil, fmt.Errorf("encode model: %w", err)
	}
	defer zstdEncoderPool.Put(enc)

	return enc.EncodeAll(raw, nil), nil
}

// Decode parses a model blob produced by Encode. Any blob that cannot be
// decompressed, parsed, or validated yields an error matching ErrModelCorrupt.
func Decode(blob []byte) (*Softmax, error) {
	dec, err := getZstdDecoder()
	if err != nil {
		return nil, fmt.Errorf("decode model: %w", err)
	}
	defer zstdDecoderPool.Put(dec)

	raw, err := dec.DecodeAll(blob, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrModelCorrupt, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("%w: parse: %v", ErrModelCorrupt, err)
	}
	if env.Version != blobVersion || env.Kind != blobKind {
		return nil, fmt.Errorf("%w: unsupported blob %s v%d", ErrModelCorrupt, env.Kind, env.Version)
	}

	m, err := NewSoftmax(env.Labels, env.Weights, env.Bias)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrModelCorrupt, err)
	}
	return m, nil
}
