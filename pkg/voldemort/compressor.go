package voldemort

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Compressor transcodes opaque byte strings. Encode compresses, Decode
// reverses it; both operate on whole byte slices since no streaming API is
// required.
type Compressor interface {
	Encode(data []byte) ([]byte, error)
	Decode(data []byte) ([]byte, error)
}

// identityCompressor is the no-op Compressor.
type identityCompressor struct{}

func (identityCompressor) Encode(data []byte) ([]byte, error) { return data, nil }
func (identityCompressor) Decode(data []byte) ([]byte, error) { return data, nil }

// gzipCompressor writes/reads a full gzip stream (not raw deflate) using
// klauspost/compress/gzip, a drop-in replacement for compress/gzip offering
// a faster implementation behind the identical io.Reader/io.Writer API.
type gzipCompressor struct{}

func (gzipCompressor) Encode(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	gw := gzip.NewWriter(&buf)
	if _, err := gw.Write(data); err != nil {
		return nil, WrapServerError(err, "gzip compressing value")
	}
	if err := gw.Close(); err != nil {
		return nil, WrapServerError(err, "closing gzip writer")
	}
	return buf.Bytes(), nil
}

func (gzipCompressor) Decode(data []byte) ([]byte, error) {
	gr, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, WrapClientError(err, "opening gzip stream")
	}
	defer gr.Close()
	out, err := io.ReadAll(gr)
	if err != nil {
		return nil, WrapClientError(err, "reading gzip stream")
	}
	return out, nil
}

// NewCompressor builds the Compressor named by typeName ("none"/"" or
// "gzip"); any other non-empty name is rejected at configuration time.
func NewCompressor(typeName string) (Compressor, error) {
	switch typeName {
	case "", "none":
		return identityCompressor{}, nil
	case "gzip":
		return gzipCompressor{}, nil
	default:
		return nil, NewClientError("unsupported compressor type: " + typeName)
	}
}
