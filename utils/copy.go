package utils

import (
	"context"
	"io"
	"io/ioutil"
	"sync"

	"github.com/go-errors/errors"
)

var (
	pool = sync.Pool{
		New: func() interface{} {
			buffer := make([]byte, 1024*1024)
			return &buffer
		},
	}
)

// If we reach the limit signal this as an error!
func ReadAllWithLimit(fd io.Reader, limit int) ([]byte, error) {
	res, err := ioutil.ReadAll(io.LimitReader(fd, int64(limit)))
	if len(res) >= limit {
		return nil, errors.New("Memory buffer exceeded")
	}

	return res, err
}

// An io.Copy() that respects context cancellations.
func Copy(ctx context.Context, dst io.Writer, src io.Reader) (n int, err error) {
	offset := 0
	buff := pool.Get().(*[]byte)
	defer pool.Put(buff)

	for {
		select {
		case <-ctx.Done():
			return n, nil

		default:
			n, err = src.Read(*buff)
			if err != nil && err != io.EOF {
				return offset, err
			}

			if n == 0 {
				return offset, nil
			}

			_, err = dst.Write((*buff)[:n])
			if err != nil {
				return offset, err
			}
			offset += n
		}
	}
}
