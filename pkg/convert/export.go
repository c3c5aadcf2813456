package convert

import (
	"context"
	"io"

	"github.com/wdm0006/csv2parquet/pkg/table"
)

// FrameSource yields frames until io.EOF.
type FrameSource interface {
	Next() (*table.Frame, error)
}

// FrameSink consumes frames, typically writing them out.
type FrameSink interface {
	Write(*table.Frame) error
	Close() error
}

// Export copies every frame from src into dst and closes dst. It returns the
// number of rows written.
func Export(ctx context.Context, src FrameSource, dst FrameSink) (int64, error) {
	var rows int64
	for {
		if err := ctx.Err(); err != nil {
			_ = dst.Close()
			return rows, canceled(err)
		}
		f, err := src.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			_ = dst.Close()
			return rows, &IOError{Op: "read frame", Err: err}
		}
		if err := dst.Write(f); err != nil {
			_ = dst.Close()
			return rows, &IOError{Op: "write frame", Err: err}
		}
		rows += int64(f.Rows())
	}
	if err := dst.Close(); err != nil {
		return rows, &IOError{Op: "close output", Err: err}
	}
	return rows, nil
}
