package engine

import (
	"github.com/sirupsen/logrus"

	"lockstep-server/pkg/logger"
)

// SyncRecord - контрольная сумма состояния на кадре.
type SyncRecord struct {
	Frame    uint32 `json:"frame"`
	Checksum uint32 `json:"checksum"`
	Seed     uint32 `json:"seed"`
}

// DesyncEvent - локальная и удаленная записи одного кадра не совпали.
type DesyncEvent struct {
	Frame  uint32
	Local  SyncRecord
	Remote SyncRecord
}

// SyncDetector сравнивает свои записи с записями пира.
//
// Локальные записи лежат в кольце фиксированного размера. Удаленная запись
// для кадра, который еще не посчитан локально, откладывается и сравнивается
// в Sample. Каждая пара записей сравнивается ровно один раз.
type SyncDetector struct {
	interval uint32
	local    []SyncRecord // Кольцо, от старых к новым
	capacity int
	held     []SyncRecord // Удаленные записи, ожидающие локальной пары
	log      *logrus.Entry
}

func NewSyncDetector(interval uint32, history int) *SyncDetector {
	if interval == 0 {
		interval = 1
	}
	if history <= 0 {
		history = 1
	}
	return &SyncDetector{
		interval: interval,
		capacity: history,
		log:      logger.Component("sync"),
	}
}

// Due сообщает, надо ли снимать контрольную сумму на этом кадре.
func (d *SyncDetector) Due(frame uint32) bool {
	return frame%d.interval == 0
}

// SetInterval меняет интервал снятия контрольных сумм. Ноль игнорируется.
func (d *SyncDetector) SetInterval(interval uint32) {
	if interval > 0 {
		d.interval = interval
	}
}

// Interval - текущий интервал снятия контрольных сумм.
func (d *SyncDetector) Interval() uint32 { return d.interval }

// Sample сохраняет локальную запись и сравнивает ее с отложенной удаленной,
// если та уже пришла. Удаленные записи старше frame отбрасываются: для них
// локальной пары уже не будет.
func (d *SyncDetector) Sample(rec SyncRecord) *DesyncEvent {
	if len(d.local) == d.capacity {
		copy(d.local, d.local[1:])
		d.local = d.local[:len(d.local)-1]
	}
	d.local = append(d.local, rec)

	var event *DesyncEvent
	kept := d.held[:0]
	for _, remote := range d.held {
		switch {
		case remote.Frame == rec.Frame:
			event = d.match(rec, remote)
		case remote.Frame > rec.Frame:
			kept = append(kept, remote)
		default:
			d.log.WithField("frame", remote.Frame).Debug("remote sync record has no local pair, dropped")
		}
	}
	d.held = kept
	return event
}

// Compare обрабатывает запись пира. Возвращает событие, если запись для
// этого кадра уже есть локально и она отличается.
func (d *SyncDetector) Compare(remote SyncRecord) *DesyncEvent {
	for _, local := range d.local {
		if local.Frame == remote.Frame {
			return d.match(local, remote)
		}
	}

	if n := len(d.local); n > 0 && remote.Frame < d.local[n-1].Frame {
		// Кадр уже прошли, а записи нет: она вытеснена из кольца или кадр
		// не попадал на интервал.
		d.log.WithField("frame", remote.Frame).Warn("remote sync record older than local history, ignored")
		return nil
	}
	if len(d.held) == d.capacity {
		d.held = d.held[1:]
	}
	d.held = append(d.held, remote)
	return nil
}

// match сравнивает пару и удаляет обе записи.
func (d *SyncDetector) match(local, remote SyncRecord) *DesyncEvent {
	d.drop(local.Frame)
	if local.Checksum == remote.Checksum && local.Seed == remote.Seed {
		return nil
	}
	return &DesyncEvent{Frame: local.Frame, Local: local, Remote: remote}
}

func (d *SyncDetector) drop(frame uint32) {
	kept := d.local[:0]
	for _, r := range d.local {
		if r.Frame != frame {
			kept = append(kept, r)
		}
	}
	d.local = kept
}

// Latest - последняя локальная запись, если есть.
func (d *SyncDetector) Latest() (SyncRecord, bool) {
	if len(d.local) == 0 {
		return SyncRecord{}, false
	}
	return d.local[len(d.local)-1], true
}

// Reset очищает историю (повторный вход).
func (d *SyncDetector) Reset() {
	d.local = d.local[:0]
	d.held = d.held[:0]
}

// Snapshot - копии локальных и отложенных записей для отладки.
func (d *SyncDetector) Snapshot() (local, held []SyncRecord) {
	local = append([]SyncRecord(nil), d.local...)
	held = append([]SyncRecord(nil), d.held...)
	return local, held
}
