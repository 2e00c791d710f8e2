package executor

import "io"

const streamChunkSize = 8 * 1024

// StreamSource identifies which child pipe a Chunk was read from.
type StreamSource string

const (
	SourceStdout StreamSource = "stdout"
	SourceStderr StreamSource = "stderr"
)

// Chunk is one uncapped read from a child's stdout or stderr, preserving
// per-stream order. Chunks from different sources carry no ordering
// guarantee relative to each other, per spec §4.2/§4.4.
type Chunk struct {
	Source StreamSource
	Data   []byte
}

// streamReader copies r in streamChunkSize reads, emitting one Chunk per
// read onto ch. It never caps output. Returns the first read error other
// than io.EOF.
func streamReader(r io.Reader, source StreamSource, ch chan<- Chunk) error {
	buf := make([]byte, streamChunkSize)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			data := make([]byte, n)
			copy(data, buf[:n])
			ch <- Chunk{Source: source, Data: data}
		}
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return err
		}
	}
}
