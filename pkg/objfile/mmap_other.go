//go:build !unix

package objfile

import (
	"io"
	"os"
)

func mapFile(fh *os.File) ([]byte, func([]byte) error, error) {
	data, err := io.ReadAll(fh)
	return data, nil, err
}
