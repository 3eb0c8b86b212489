package storage

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"lockstep-server/internal/domain"
)

const (
	MagicHeader string = `LSCL` // 4 байта
	Version1    uint32 = 1
)

// CommandLogFileHeader - заголовок файла журнала команд.
// binary.Write пишет его целиком: тут только массивы и числа.
type CommandLogFileHeader struct {
	Magic     [4]byte // 4 байта
	Version   uint32  // 4 байта
	Seed      uint64  // 8 байт
	Timestamp int64   // 8 байт
}

// EntryHeader - заголовок каждой записи. За ним идет сериализованная команда.
type EntryHeader struct {
	Frame      uint32 // 4
	Origin     uint32 // 4
	CommandLen uint16 // 2
}

// CommandLogService хранит журналы команд в каталоге Dir.
type CommandLogService struct {
	Dir string
}

func NewCommandLogService(dir string) (*CommandLogService, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create command log dir: %w", err)
	}
	return &CommandLogService{Dir: dir}, nil
}

// Save пишет журнал сессии одним файлом.
func (s *CommandLogService) Save(session *domain.CommandLogSession) (string, error) {
	path := filepath.Join(s.Dir, fileName(session.Seed, session.Timestamp))
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	if err := writeHeader(w, session.Seed, session.Timestamp); err != nil {
		return "", err
	}
	for _, e := range session.Entries {
		if err := writeEntry(w, e); err != nil {
			return "", err
		}
	}
	return path, w.Flush()
}

// Create открывает файл для дозаписи по мере распределения команд.
func (s *CommandLogService) Create(seed uint64, timestamp int64) (*CommandLogWriter, error) {
	path := filepath.Join(s.Dir, fileName(seed, timestamp))
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	w := &CommandLogWriter{path: path, f: f, buf: bufio.NewWriter(f)}
	if err := writeHeader(w.buf, seed, timestamp); err != nil {
		_ = f.Close()
		return nil, err
	}
	return w, nil
}

func fileName(seed uint64, timestamp int64) string {
	return fmt.Sprintf("cmdlog_%d_%d.lscl", seed, timestamp)
}

// CommandLogWriter - открытый журнал. Реализует engine.CommandLogSink.
type CommandLogWriter struct {
	mu   sync.Mutex
	path string
	f    *os.File
	buf  *bufio.Writer
}

func (w *CommandLogWriter) Path() string { return w.path }

// Append дописывает запись. На диск она попадет при Flush или Close.
func (w *CommandLogWriter) Append(e domain.CommandLogEntry) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return writeEntry(w.buf, e)
}

func (w *CommandLogWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return os.ErrClosed
	}
	return w.buf.Flush()
}

func (w *CommandLogWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.f == nil {
		return nil
	}
	err := w.buf.Flush()
	if cerr := w.f.Close(); err == nil {
		err = cerr
	}
	w.f = nil
	return err
}

func writeHeader(w io.Writer, seed uint64, timestamp int64) error {
	header := CommandLogFileHeader{
		Version:   Version1,
		Seed:      seed,
		Timestamp: timestamp,
	}
	copy(header.Magic[:], MagicHeader)
	if err := binary.Write(w, binary.LittleEndian, &header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	return nil
}

func writeEntry(w io.Writer, e domain.CommandLogEntry) error {
	data, err := domain.Serialize(e.Command)
	if err != nil {
		return fmt.Errorf("serialize command: %w", err)
	}
	if len(data) > 65535 {
		return fmt.Errorf("command too long: %d", len(data))
	}
	eh := EntryHeader{
		Frame:      e.Frame,
		Origin:     uint32(e.Origin),
		CommandLen: uint16(len(data)),
	}
	if err := binary.Write(w, binary.LittleEndian, &eh); err != nil {
		return err
	}
	_, err = w.Write(data)
	return err
}
