package queue

// Queue - FIFO на кольцевом буфере. Push никогда не блокирует, буфер растет
// по мере необходимости. Удалять элементы можно только с головы.
//
// Queue не потокобезопасна: у каждой очереди ровно один писатель и один
// читатель, и оба работают в одном цикле сессии.
type Queue[T any] struct {
	buf  []T
	head int
	size int
}

const minCapacity = 8

// Push добавляет элемент в хвост. Амортизированно O(1).
func (q *Queue[T]) Push(v T) {
	if q.size == len(q.buf) {
		q.grow()
	}
	q.buf[(q.head+q.size)%len(q.buf)] = v
	q.size++
}

func (q *Queue[T]) grow() {
	n := len(q.buf) * 2
	if n < minCapacity {
		n = minCapacity
	}
	buf := make([]T, n)
	for i := 0; i < q.size; i++ {
		buf[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	q.buf = buf
	q.head = 0
}

// PopWhile снимает элементы с головы, пока accept их принимает, и
// возвращает их в исходном порядке. Первый отвергнутый элемент остается
// головой очереди: порядок никогда не нарушается.
func (q *Queue[T]) PopWhile(accept func(v T) bool) []T {
	var out []T
	var zero T
	for q.size > 0 {
		v := q.buf[q.head]
		if !accept(v) {
			break
		}
		out = append(out, v)
		q.buf[q.head] = zero
		q.head = (q.head + 1) % len(q.buf)
		q.size--
	}
	if q.size == 0 {
		q.head = 0
	}
	return out
}

// PopAll забирает все элементы.
func (q *Queue[T]) PopAll() []T {
	return q.PopWhile(func(T) bool { return true })
}

// Len - текущее число элементов.
func (q *Queue[T]) Len() int { return q.size }

// Clear отбрасывает все элементы (разрыв соединения).
func (q *Queue[T]) Clear() {
	var zero T
	for i := 0; i < q.size; i++ {
		q.buf[(q.head+i)%len(q.buf)] = zero
	}
	q.head = 0
	q.size = 0
}

// Snapshot возвращает копию содержимого от головы к хвосту, не меняя очередь.
func (q *Queue[T]) Snapshot() []T {
	out := make([]T, q.size)
	for i := 0; i < q.size; i++ {
		out[i] = q.buf[(q.head+i)%len(q.buf)]
	}
	return out
}
