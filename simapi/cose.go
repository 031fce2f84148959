package simapi

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"fmt"
	"io"
	"strings"
)

// SummaryCOSE is a raw COSE_Sign1 message carrying a CBOR RunSummary.
type SummaryCOSE []byte

// SummaryCOSEBase64 is a SummaryCOSE in standard base64.
type SummaryCOSEBase64 string

// SummaryCOSEURLBase64 is a SummaryCOSE in unpadded URL-safe base64.
type SummaryCOSEURLBase64 string

// SummaryCOSEGzip is a gzipped SummaryCOSE in unpadded URL-safe base64.
type SummaryCOSEGzip string

func (c SummaryCOSE) EncodeBase64() SummaryCOSEBase64 {
	return SummaryCOSEBase64(base64.StdEncoding.EncodeToString(c))
}

func (c SummaryCOSE) EncodeURLSafe() SummaryCOSEURLBase64 {
	return SummaryCOSEURLBase64(base64.RawURLEncoding.EncodeToString(c))
}

// CompressGzip gzips the message and encodes it URL-safe. The output is
// deterministic for equal input.
func (c SummaryCOSE) CompressGzip() (SummaryCOSEGzip, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(c); err != nil {
		return "", fmt.Errorf("gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return "", fmt.Errorf("gzip close: %w", err)
	}
	return SummaryCOSEGzip(base64.RawURLEncoding.EncodeToString(buf.Bytes())), nil
}

func (b SummaryCOSEBase64) String() string {
	return string(b)
}

func (b SummaryCOSEBase64) Decode() (SummaryCOSE, error) {
	data, err := base64.StdEncoding.DecodeString(string(b))
	if err != nil {
		return nil, fmt.Errorf("decode COSE base64: %w", err)
	}
	return SummaryCOSE(data), nil
}

// CompressGzip is a convenience for Decode followed by CompressGzip.
func (b SummaryCOSEBase64) CompressGzip() (SummaryCOSEGzip, error) {
	c, err := b.Decode()
	if err != nil {
		return "", err
	}
	return c.CompressGzip()
}

func (u SummaryCOSEURLBase64) String() string {
	return string(u)
}

// Decode accepts the URL-safe form with or without padding.
func (u SummaryCOSEURLBase64) Decode() (SummaryCOSE, error) {
	data, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(string(u), "="))
	if err != nil {
		return nil, fmt.Errorf("decode base64url: %w", err)
	}
	return SummaryCOSE(data), nil
}

func (g SummaryCOSEGzip) String() string {
	return string(g)
}

func (g SummaryCOSEGzip) Decompress() (SummaryCOSE, error) {
	compressed, err := SummaryCOSEURLBase64(g).Decode()
	if err != nil {
		return nil, err
	}
	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, fmt.Errorf("open gzip: %w", err)
	}
	defer zr.Close()

	data, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("read gzip: %w", err)
	}
	return SummaryCOSE(data), nil
}
