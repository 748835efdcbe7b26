package helpers

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TempDirWithFiles(t *testing.T, files []string) (string, []string) {
	dirPath := t.TempDir()
	filePaths := make([]string, 0, len(files))
	for _, filename := range files {
		fileName, err := os.CreateTemp(dirPath, "*"+filename)
		assert.Nil(t, err, "failed to create temporary file in temporary dir")
		filePaths = append(filePaths, fileName.Name())
	}

	assert.Len(t, filePaths, len(files), "Expected file paths recorded to match length of requested files")
	return dirPath, filePaths
}

// CreateFileWithModTime writes a file with the name provided inside dirPath
// and backdates its modification time. Useful for exercising code which
// treats old files differently to fresh ones.
func CreateFileWithModTime(t *testing.T, dirPath string, fileName string, modTime time.Time) string {
	path := filepath.Join(dirPath, fileName)
	assert.Nil(t, os.WriteFile(path, []byte("test file content"), 0o644), "failed to write file %s", path)
	assert.Nil(t, os.Chtimes(path, modTime, modTime), "failed to set modtime of file %s", path)

	return path
}
