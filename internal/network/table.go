package network

import (
	"github.com/sirupsen/logrus"

	"lockstep-server/internal/domain"
	"lockstep-server/pkg/api"
)

// removal - отложенное удаление соединения
type removal struct {
	reason api.ErrorCode
	fault  bool // Ошибка протокола: соединение уходит в StatusError
}

// Table владеет всеми соединениями процесса. Удаление всегда отложенное:
// MarkForRemoval только помечает, а Sweep - единственное место, где
// соединение освобождается. Обработчик может пометить собственное
// соединение, не ломая обход таблицы.
type Table struct {
	conns   []*Connection // В порядке входа
	byID    map[domain.ClientID]*Connection
	pending map[domain.ClientID]removal

	dispatching int
}

func NewTable() *Table {
	return &Table{
		byID:    make(map[domain.ClientID]*Connection),
		pending: make(map[domain.ClientID]removal),
	}
}

// Add регистрирует соединение в конце таблицы.
func (t *Table) Add(c *Connection) {
	t.conns = append(t.conns, c)
	t.byID[c.ID] = c
}

// Lookup ищет соединение по ID. Помеченные на удаление тоже находятся.
func (t *Table) Lookup(id domain.ClientID) (*Connection, bool) {
	c, ok := t.byID[id]
	return c, ok
}

// Len - число соединений, включая помеченные.
func (t *Table) Len() int { return len(t.conns) }

// Each обходит соединения в порядке входа, пропуская помеченные на удаление.
// fn может вызывать MarkForRemoval для любого соединения, включая текущее.
func (t *Table) Each(fn func(c *Connection)) {
	t.dispatching++
	defer func() { t.dispatching-- }()

	// Add во время обхода не влияет на текущий проход
	n := len(t.conns)
	for i := 0; i < n; i++ {
		c := t.conns[i]
		if t.IsMarked(c.ID) {
			continue
		}
		fn(c)
	}
}

// Active - соединения в StatusActive в порядке входа.
func (t *Table) Active() []*Connection {
	var out []*Connection
	for _, c := range t.conns {
		if c.Status() == StatusActive && !t.IsMarked(c.ID) {
			out = append(out, c)
		}
	}
	return out
}

// MarkForRemoval помечает соединение. Повторная пометка сохраняет первую причину.
func (t *Table) MarkForRemoval(id domain.ClientID, reason api.ErrorCode) {
	t.mark(id, removal{reason: reason})
}

// MarkFaulty помечает соединение после ошибки протокола.
func (t *Table) MarkFaulty(id domain.ClientID, reason api.ErrorCode) {
	t.mark(id, removal{reason: reason, fault: true})
}

func (t *Table) mark(id domain.ClientID, r removal) {
	c, ok := t.byID[id]
	if !ok {
		return
	}
	if _, already := t.pending[id]; already {
		return
	}
	t.pending[id] = r
	c.CloseReason = r.reason
	if r.fault {
		_ = c.SetStatus(StatusError, c.StatusFrame)
	} else if !c.Status().Terminal() {
		_ = c.SetStatus(StatusClosing, c.StatusFrame)
	}
	c.Log().WithFields(logrus.Fields{
		"reason": r.reason,
		"fault":  r.fault,
	}).Debug("connection marked for removal")
}

func (t *Table) IsMarked(id domain.ClientID) bool {
	_, ok := t.pending[id]
	return ok
}

// Sweep освобождает помеченные соединения и возвращает их. Во время обхода
// Each ничего не делает.
func (t *Table) Sweep() []*Connection {
	if t.dispatching > 0 || len(t.pending) == 0 {
		return nil
	}
	var removed []*Connection
	kept := t.conns[:0]
	for _, c := range t.conns {
		if _, ok := t.pending[c.ID]; ok {
			c.release()
			delete(t.byID, c.ID)
			removed = append(removed, c)
			continue
		}
		kept = append(kept, c)
	}
	for i := len(kept); i < len(t.conns); i++ {
		t.conns[i] = nil
	}
	t.conns = kept
	t.pending = make(map[domain.ClientID]removal)
	return removed
}

// Broadcast отправляет сообщение всем активным соединениям.
func (t *Table) Broadcast(m api.Message) {
	for _, c := range t.Active() {
		c.Send(m)
	}
}

// Snapshot - копия списка соединений для отладочных эндпоинтов.
func (t *Table) Snapshot() []*Connection {
	out := make([]*Connection, len(t.conns))
	copy(out, t.conns)
	return out
}
