package uploads

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/teris-io/shortid"
)

// FileStore writes attachment payloads to a local directory and hands back
// a stable filename reference. Only the reference is ever persisted in a
// message record, never the payload itself.
type FileStore struct {
	dir string
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, fmt.Errorf("upload directory cannot be empty")
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload directory: %w", err)
	}

	return &FileStore{dir: dir}, nil
}

func (fs *FileStore) Dir() string {
	return fs.dir
}

func (fs *FileStore) Store(data []byte, originalName string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("empty file payload")
	}

	id, err := shortid.Generate()
	if err != nil {
		return "", fmt.Errorf("generate file reference: %w", err)
	}

	name := id + sanitizeExt(originalName)
	if err := os.WriteFile(filepath.Join(fs.dir, name), data, 0o644); err != nil {
		return "", fmt.Errorf("write file: %w", err)
	}

	return name, nil
}

// sanitizeExt keeps the original extension so browsers can infer a content
// type, but never any path components from the client-supplied name.
func sanitizeExt(name string) string {
	ext := filepath.Ext(filepath.Base(name))
	if ext == "." || strings.ContainsAny(ext, `/\`) {
		return ""
	}

	return ext
}
