package storage

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// SavegameStore хранит диагностические сохранения, снятые при рассинхронизации.
// Файлы сжаты lz4.
type SavegameStore struct {
	Dir string
}

func NewSavegameStore(dir string) (*SavegameStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create diagnostics dir: %w", err)
	}
	return &SavegameStore{Dir: dir}, nil
}

func (s *SavegameStore) path(tag string) (string, error) {
	if tag == "" || strings.ContainsAny(tag, `/\`) || strings.Contains(tag, "..") {
		return "", fmt.Errorf("bad savegame tag %q", tag)
	}
	return filepath.Join(s.Dir, "desync_"+tag+".sav.lz4"), nil
}

// Persist сжимает и записывает сохранение. Возвращает путь к файлу.
func (s *SavegameStore) Persist(tag string, data []byte) (string, error) {
	path, err := s.path(tag)
	if err != nil {
		return "", err
	}
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	if err := writeCompressed(f, data); err != nil {
		os.Remove(path)
		return "", fmt.Errorf("write savegame %s: %w", path, err)
	}
	return path, nil
}

// writeCompressed пишет data через lz4 и закрывает w. Возвращает первую
// ошибку записи или закрытия.
func writeCompressed(w io.WriteCloser, data []byte) error {
	zw := lz4.NewWriter(w)
	_, err := zw.Write(data)
	if err == nil {
		err = zw.Close()
	}
	if cerr := w.Close(); err == nil {
		err = cerr
	}
	return err
}

// Load читает сохранение по пути, который вернул Persist.
func (s *SavegameStore) Load(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, lz4.NewReader(f)); err != nil {
		return nil, fmt.Errorf("decompress %s: %w", path, err)
	}
	return buf.Bytes(), nil
}
