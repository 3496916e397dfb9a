package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

type Local struct {
	BaseDir string
}

func NewLocal(baseDir string) *Local {
	return &Local{BaseDir: baseDir}
}

func (l *Local) Put(ctx context.Context, key string, body []byte) error {
	_ = ctx

	if err := os.MkdirAll(l.BaseDir, 0o755); err != nil {
		return err
	}

	dstPath := filepath.Join(l.BaseDir, safeKey(key)+".json")
	return os.WriteFile(dstPath, body, 0o644)
}

// safeKey flattens the key to a single path element.
func safeKey(key string) string {
	key = strings.ReplaceAll(key, "/", "_")
	return filepath.Base(key)
}

func (l *Local) String() string { return fmt.Sprintf("local(%s)", l.BaseDir) }
