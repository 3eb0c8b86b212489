package storage

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"

	"lockstep-server/internal/domain"
)

func (s *CommandLogService) Load(path string) (*domain.CommandLogSession, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return readBinary(bufio.NewReader(f))
}

// readBinary читает журнал до конца файла. Оборванная последняя запись
// (процесс упал до Flush) считается ошибкой, прочитанное возвращается.
func readBinary(r io.Reader) (*domain.CommandLogSession, error) {
	var header CommandLogFileHeader
	if err := binary.Read(r, binary.LittleEndian, &header); err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if string(header.Magic[:]) != MagicHeader {
		return nil, fmt.Errorf("invalid magic")
	}
	if header.Version != Version1 {
		return nil, fmt.Errorf("unsupported version: %d (expected %d)", header.Version, Version1)
	}

	session := &domain.CommandLogSession{
		Seed:      header.Seed,
		Timestamp: header.Timestamp,
	}
	for {
		var eh EntryHeader
		if err := binary.Read(r, binary.LittleEndian, &eh); err != nil {
			if errors.Is(err, io.EOF) {
				return session, nil
			}
			return session, fmt.Errorf("entry %d: %w", len(session.Entries), err)
		}
		data := make([]byte, eh.CommandLen)
		if _, err := io.ReadFull(r, data); err != nil {
			return session, fmt.Errorf("entry %d: %w", len(session.Entries), err)
		}
		cmd, err := domain.Deserialize(data)
		if err != nil {
			return session, fmt.Errorf("entry %d: %w", len(session.Entries), err)
		}
		session.Entries = append(session.Entries, domain.CommandLogEntry{
			Frame:   eh.Frame,
			Origin:  domain.ClientID(eh.Origin),
			Command: cmd,
		})
	}
}
