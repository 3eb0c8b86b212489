package queue

import (
	"reflect"
	"testing"
)

func TestQueue_FIFOAcrossGrowth(t *testing.T) {
	var q Queue[int]
	for i := 0; i < 5; i++ {
		q.Push(i)
	}
	// Сдвигаем голову, чтобы рост прошел через заворот кольца
	got := q.PopWhile(func(v int) bool { return v < 3 })
	if !reflect.DeepEqual(got, []int{0, 1, 2}) {
		t.Fatalf("PopWhile = %v", got)
	}
	for i := 5; i < 40; i++ {
		q.Push(i)
	}
	if q.Len() != 37 {
		t.Fatalf("Len = %d, want 37", q.Len())
	}
	all := q.PopAll()
	for i, v := range all {
		if v != i+3 {
			t.Fatalf("order broken at %d: got %d", i, v)
		}
	}
	if q.Len() != 0 {
		t.Errorf("queue not empty after PopAll")
	}
}

func TestQueue_PopWhileStopsAtHead(t *testing.T) {
	var q Queue[int]
	for _, v := range []int{1, 2, 10, 3, 4} {
		q.Push(v)
	}
	got := q.PopWhile(func(v int) bool { return v < 5 })
	if !reflect.DeepEqual(got, []int{1, 2}) {
		t.Fatalf("PopWhile = %v, want [1 2]", got)
	}
	// 3 и 4 меньше 5, но стоят за отвергнутой головой
	if snap := q.Snapshot(); !reflect.DeepEqual(snap, []int{10, 3, 4}) {
		t.Errorf("Snapshot = %v, want [10 3 4]", snap)
	}
}

func TestQueue_PopWhileCountingPredicate(t *testing.T) {
	var q Queue[string]
	for _, v := range []string{"a", "b", "c", "d"} {
		q.Push(v)
	}
	taken := 0
	got := q.PopWhile(func(string) bool {
		if taken == 2 {
			return false
		}
		taken++
		return true
	})
	if !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("PopWhile = %v", got)
	}
	if q.Len() != 2 {
		t.Errorf("Len = %d, want 2", q.Len())
	}
}

func TestQueue_Clear(t *testing.T) {
	var q Queue[int]
	q.Push(1)
	q.Push(2)
	q.Clear()
	if q.Len() != 0 || len(q.Snapshot()) != 0 {
		t.Fatalf("queue not empty after Clear")
	}
	q.Push(3)
	if got := q.PopAll(); !reflect.DeepEqual(got, []int{3}) {
		t.Errorf("after Clear PopAll = %v", got)
	}
}
