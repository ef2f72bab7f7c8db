package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// Output is the reconstructed file receivers write into. It is pre-sized to
// the input length so that any number of receivers can write single bytes at
// their source offsets concurrently; offsets never collide because each
// source index is dispatched exactly once.
type Output struct {
	f    *os.File
	path string
}

// OutputPath derives the output file location from the directory and the
// input file name stored in the segment.
func OutputPath(dir, inputName string) string {
	return filepath.Join(dir, filepath.Base(inputName)+".dec.bin")
}

// OpenOutput creates the output file (and its directory if missing) and
// sizes it to the input length. Unwritten offsets read back as zero bytes.
func OpenOutput(dir, inputName string, size int64) (*Output, error) {
	if err := os.MkdirAll(dir, 0o777); err != nil {
		return nil, fmt.Errorf("failed to create output directory %q: %w", dir, err)
	}

	p := OutputPath(dir, inputName)
	f, err := os.OpenFile(p, os.O_RDWR|os.O_CREATE, 0o666)
	if err != nil {
		return nil, fmt.Errorf("failed to open output file %q: %w", p, err)
	}
	if err := f.Truncate(size); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("failed to size output file %q: %w", p, err)
	}
	return &Output{f: f, path: p}, nil
}

// Path returns the output file location.
func (o *Output) Path() string { return o.path }

// WriteByteAt writes one byte at the given source offset.
func (o *Output) WriteByteAt(b byte, off int64) error {
	if _, err := o.f.WriteAt([]byte{b}, off); err != nil {
		return fmt.Errorf("positional write at %d failed: %w", off, err)
	}
	return nil
}

// Close closes the file.
func (o *Output) Close() error {
	return o.f.Close()
}
