package engine

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/logger"
)

// CommandLog - журнал решений распределения. Каждая запись уходит в лог
// (debug), в кольцо последних записей для дампа рассинхронизации и, если
// задан, в постоянный журнал на диске.
type CommandLog struct {
	ring []domain.CommandLogEntry
	next int
	full bool
	sink CommandLogSink
	log  *logrus.Entry
}

func NewCommandLog(size int, sink CommandLogSink) *CommandLog {
	if size <= 0 {
		size = 1
	}
	return &CommandLog{
		ring: make([]domain.CommandLogEntry, size),
		sink: sink,
		log:  logger.Component("distribution"),
	}
}

// Record добавляет запись.
func (l *CommandLog) Record(e domain.CommandLogEntry) {
	l.log.WithFields(logrus.Fields{
		"frame":     e.Frame,
		"client_id": e.Origin,
		"op":        e.Command.Op,
		"company":   e.Command.Company,
		"tile":      e.Command.Tile,
	}).Debug("command distributed")

	l.ring[l.next] = e
	l.next = (l.next + 1) % len(l.ring)
	if l.next == 0 {
		l.full = true
	}

	if l.sink != nil {
		if err := l.sink.Append(e); err != nil {
			l.log.WithError(err).Warn("failed to append to command log")
		}
	}
}

// Recent возвращает записи кольца от старых к новым.
func (l *CommandLog) Recent() []domain.CommandLogEntry {
	if !l.full {
		return append([]domain.CommandLogEntry(nil), l.ring[:l.next]...)
	}
	out := make([]domain.CommandLogEntry, 0, len(l.ring))
	out = append(out, l.ring[l.next:]...)
	return append(out, l.ring[:l.next]...)
}

// Dump пишет последние записи в человекочитаемом виде.
func (l *CommandLog) Dump(w io.Writer) error {
	for _, e := range l.Recent() {
		if _, err := fmt.Fprintf(w, "cmd: frame=%d origin=%s op=%s company=%s tile=%s cb=%d\n",
			e.Frame, e.Origin, e.Command.Op, e.Command.Company, e.Command.Tile, e.Command.Callback); err != nil {
			return err
		}
	}
	return nil
}
