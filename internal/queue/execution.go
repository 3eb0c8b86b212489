package queue

import (
	"container/heap"

	"lockstep-server/internal/domain"
)

// executionItem обертка для элемента кучи
type executionItem struct {
	cmd domain.ScheduledCommand
	seq uint64 // Порядок поступления. При равных кадрах раньше тот, кто пришел первым.
}

// executionHeap реализует heap.Interface, min-heap по (Frame, seq)
type executionHeap []executionItem

func (h executionHeap) Len() int { return len(h) }

func (h executionHeap) Less(i, j int) bool {
	if h[i].cmd.Frame != h[j].cmd.Frame {
		return h[i].cmd.Frame < h[j].cmd.Frame
	}
	return h[i].seq < h[j].seq
}

func (h executionHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *executionHeap) Push(x interface{}) {
	*h = append(*h, x.(executionItem))
}

func (h *executionHeap) Pop() interface{} {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = executionItem{} // не держим payload
	*h = old[:n-1]
	return item
}

// ExecutionQueue - очередь команд, ожидающих своего кадра исполнения.
// Единственный способ извлечь элементы - DrainDue.
type ExecutionQueue struct {
	items executionHeap
	seq   uint64
}

func NewExecutionQueue() *ExecutionQueue {
	return &ExecutionQueue{items: make(executionHeap, 0, 16)}
}

// Push добавляет команду. O(log n).
func (q *ExecutionQueue) Push(cmd domain.ScheduledCommand) {
	heap.Push(&q.items, executionItem{cmd: cmd, seq: q.seq})
	q.seq++
}

// DrainDue удаляет и возвращает все команды с Frame <= frame, упорядоченные
// по кадру, а внутри кадра - в порядке поступления. Команды будущих кадров
// остаются в очереди.
func (q *ExecutionQueue) DrainDue(frame uint32) []domain.ScheduledCommand {
	var out []domain.ScheduledCommand
	for q.items.Len() > 0 && q.items[0].cmd.Frame <= frame {
		item := heap.Pop(&q.items).(executionItem)
		out = append(out, item.cmd)
	}
	return out
}

func (q *ExecutionQueue) Len() int { return q.items.Len() }

// Clear отбрасывает очередь (перезагрузка состояния перед повторным входом).
func (q *ExecutionQueue) Clear() {
	q.items = q.items[:0]
}

// Snapshot возвращает копию очереди в порядке исполнения для отладки.
func (q *ExecutionQueue) Snapshot() []domain.ScheduledCommand {
	tmp := make(executionHeap, len(q.items))
	copy(tmp, q.items)
	out := make([]domain.ScheduledCommand, 0, len(tmp))
	for tmp.Len() > 0 {
		out = append(out, heap.Pop(&tmp).(executionItem).cmd)
	}
	return out
}
