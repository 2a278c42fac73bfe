package queue

import "testing"

func TestInsertPop_PriorityOrder(t *testing.T) {
	q := New()
	q.Insert("c", 30, 0, 0)
	q.Insert("a", 10, 0, 0)
	q.Insert("b", 20, 0, 0)

	want := []string{"a", "b", "c"}
	for _, w := range want {
		got, ok := q.Pop()
		if !ok || got != w {
			t.Fatalf("Pop() = %v, %v, want %q", got, ok, w)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue should return ok=false")
	}
}

func TestInsert_StableFIFOWithinPriority(t *testing.T) {
	q := New()
	q.Insert("first", 10, 0, 0)
	q.Insert("second", 10, 0, 0)
	q.Insert("third", 10, 0, 0)

	for _, want := range []string{"first", "second", "third"} {
		got, _ := q.Pop()
		if got != want {
			t.Errorf("Pop() = %v, want %q", got, want)
		}
	}
}

func TestDelete_RemovesEntry(t *testing.T) {
	q := New()
	q.Insert("a", 10, 0, 0)
	q.Insert("b", 20, 0, 0)

	priority, ok := q.Delete("a")
	if !ok || priority != 10 {
		t.Fatalf("Delete(a) = %v, %v, want 10, true", priority, ok)
	}
	if _, ok := q.Delete("a"); ok {
		t.Error("Delete(a) a second time should report not found")
	}

	got, _ := q.Pop()
	if got != "b" {
		t.Errorf("Pop() = %v, want %q", got, "b")
	}
}

func TestUpdate_Reprioritizes(t *testing.T) {
	q := New()
	q.Insert("a", 10, 0, 0)
	q.Insert("b", 20, 0, 0)

	if !q.Update("b", 0) {
		t.Fatal("Update(b, 0) should report success")
	}

	got, _ := q.Pop()
	if got != "b" {
		t.Errorf("Pop() = %v, want %q after re-prioritizing to 0", got, "b")
	}
}

func TestUpdate_UnknownPayload(t *testing.T) {
	q := New()
	if q.Update("nope", 5) {
		t.Error("Update on an absent payload should report false")
	}
}

func TestInsert_CallablePayloadComparableByID(t *testing.T) {
	q := New()
	q.Insert(Callable{ID: "cb1", Fn: func() error { return nil }}, 10, 0, 0)
	q.Insert(Callable{ID: "cb2", Fn: func() error { return nil }}, 5, 0, 0)

	first, ok := q.Pop()
	if !ok {
		t.Fatal("expected a callable to pop")
	}
	cb, ok := first.(Callable)
	if !ok || cb.ID != "cb2" {
		t.Errorf("Pop() = %v, want callable cb2", first)
	}

	if _, ok := q.Delete(Callable{ID: "cb1", Fn: func() error { return nil }}); !ok {
		t.Error("Delete should match a callable by ID even with a different Fn value")
	}
}

func TestPeek_DoesNotRemove(t *testing.T) {
	q := New()
	q.Insert("a", 10, 0, 0)

	if got, _ := q.Peek(); got != "a" {
		t.Errorf("Peek() = %v, want %q", got, "a")
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1 after Peek", q.Len())
	}
}
