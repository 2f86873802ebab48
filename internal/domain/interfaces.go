// ABOUTME: Domain interfaces for dependency inversion
// ABOUTME: Mixers depend on abstractions for their PCM sources
package domain

import (
	"context"
	"io"
)

// StreamSource provides raw PCM bytes (signed 16-bit little endian,
// interleaved channels).
type StreamSource interface {
	Connect(ctx context.Context) (io.ReadCloser, error)
}
