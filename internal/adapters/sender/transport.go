package sender

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/ghalamif/AegisFleet/internal/ports"
)

// FileTransport writes each payload to its own file in a directory. It
// stands in for a network uplink on benches and in the CLI.
type FileTransport struct {
	mu  sync.Mutex
	dir string
	seq uint64
}

func NewFileTransport(dir string) (*FileTransport, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return &FileTransport{dir: dir}, nil
}

func (t *FileTransport) Send(payload []byte, params ports.TransmitParams) error {
	t.mu.Lock()
	t.seq++
	name := fmt.Sprintf("payload-%08d-p%d.cbor", t.seq, params.Priority)
	t.mu.Unlock()

	tmp := filepath.Join(t.dir, "."+name)
	if err := os.WriteFile(tmp, payload, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, filepath.Join(t.dir, name))
}

var _ ports.Transport = (*FileTransport)(nil)
