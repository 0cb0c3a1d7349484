package fsstore

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"

	"tender-harvester/internal/storage"
)

// AtomicFile пишет во временный файл рядом с целевым и переименовывает его
// при Commit. Читатель видит либо старый файл, либо новый целиком.
type AtomicFile struct {
	file   *os.File
	path   string
	tmp    string
	closed bool
}

// TempName: имя временного файла: .<name>.part-<uuid>
func TempName(path string) string {
	return filepath.Join(filepath.Dir(path), fmt.Sprintf(".%s.part-%s", filepath.Base(path), uuid.NewString()))
}

func CreateAtomic(path string) (*AtomicFile, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, storage.WrapIO("mkdir", filepath.Dir(path), err)
	}

	tmp := TempName(path)
	file, err := os.OpenFile(tmp, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, storage.WrapIO("create", tmp, err)
	}

	return &AtomicFile{file: file, path: path, tmp: tmp}, nil
}

func (a *AtomicFile) Write(p []byte) (int, error) {
	n, err := a.file.Write(p)
	if err != nil {
		return n, storage.WrapIO("write", a.tmp, err)
	}
	return n, nil
}

func (a *AtomicFile) TempPath() string {
	return a.tmp
}

// Commit: fsync, close, rename поверх целевого файла
func (a *AtomicFile) Commit() error {
	if a.closed {
		return fmt.Errorf("atomic file %s already closed", a.path)
	}
	a.closed = true

	if err := a.file.Sync(); err != nil {
		_ = a.file.Close()
		_ = os.Remove(a.tmp)
		return storage.WrapIO("fsync", a.tmp, err)
	}
	if err := a.file.Close(); err != nil {
		_ = os.Remove(a.tmp)
		return storage.WrapIO("close", a.tmp, err)
	}
	if err := os.Rename(a.tmp, a.path); err != nil {
		_ = os.Remove(a.tmp)
		return storage.WrapIO("rename", a.path, err)
	}

	syncDir(filepath.Dir(a.path))
	return nil
}

// Abort удаляет временный файл; после Commit ничего не делает
func (a *AtomicFile) Abort() {
	if a.closed {
		return
	}
	a.closed = true
	_ = a.file.Close()
	_ = os.Remove(a.tmp)
}

// WriteFileAtomic записывает data в path через временный файл
func WriteFileAtomic(path string, data []byte) error {
	af, err := CreateAtomic(path)
	if err != nil {
		return err
	}
	if _, err := af.Write(data); err != nil {
		af.Abort()
		return err
	}
	return af.Commit()
}

// syncDir фиксирует rename в каталоге; на части ФС не поддерживается
func syncDir(dir string) {
	d, err := os.Open(dir)
	if err != nil {
		return
	}
	_ = d.Sync()
	_ = d.Close()
}
