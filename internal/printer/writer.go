package printer

import (
	"context"
	"fmt"
	"time"
)

// Printer buffer defaults
const (
	DefaultChunkSize  = 100
	DefaultChunkDelay = 200 * time.Millisecond
)

// ChunkWriter splits a print job into fixed-size chunks and writes them one
// at a time, pausing between chunks so the printer buffer can drain
type ChunkWriter struct {
	ChunkSize int
	Delay     time.Duration
	// Sleep waits between chunks; tests replace it to observe delays
	Sleep func(ctx context.Context, d time.Duration) error
}

// NewChunkWriter creates a writer with the given chunk size and delay
func NewChunkWriter(size int, delay time.Duration) *ChunkWriter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if delay < 0 {
		delay = 0
	}
	return &ChunkWriter{ChunkSize: size, Delay: delay, Sleep: sleepContext}
}

// Chunks splits data into slices of at most size bytes
func Chunks(data []byte, size int) [][]byte {
	if size <= 0 {
		size = DefaultChunkSize
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for start := 0; start < len(data); start += size {
		end := start + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[start:end])
	}
	return chunks
}

// Write sends data through link. The first failed chunk aborts the job; no
// chunk is ever resent.
func (w *ChunkWriter) Write(ctx context.Context, link Link, data []byte) error {
	chunks := Chunks(data, w.ChunkSize)
	sleep := w.Sleep
	if sleep == nil {
		sleep = sleepContext
	}

	for i, chunk := range chunks {
		if i > 0 && w.Delay > 0 {
			if err := sleep(ctx, w.Delay); err != nil {
				return fmt.Errorf("%w: chunk %d/%d: %w", ErrWriteFailed, i+1, len(chunks), err)
			}
		}
		if err := link.Write(ctx, chunk); err != nil {
			return fmt.Errorf("%w: chunk %d/%d: %w", ErrWriteFailed, i+1, len(chunks), err)
		}
	}
	return nil
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
