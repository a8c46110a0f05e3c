package session

import (
	"reflect"
	"testing"
)

func TestFeedCancelAndClose(t *testing.T) {
	var f Feed[int]
	var a, b []int

	cancelA := f.Subscribe(func(v int) { a = append(a, v) })
	f.Subscribe(func(v int) { b = append(b, v) })

	f.Publish(1)
	cancelA()
	cancelA()
	f.Publish(2)
	f.Close()
	f.Publish(3)

	if len(a) != 1 || a[0] != 1 {
		t.Errorf("cancelled subscriber saw %v, want [1]", a)
	}
	if len(b) != 2 || b[1] != 2 {
		t.Errorf("subscriber saw %v, want [1 2]", b)
	}

	late := false
	f.Subscribe(func(int) { late = true })()
	f.Publish(4)
	if late {
		t.Error("subscriber added after Close was called")
	}
}

func TestFeedReplaysToLateSubscribers(t *testing.T) {
	f := Feed[int]{Replay: 2}
	f.Publish(1)
	f.Publish(2)
	f.Publish(3)

	var got []int
	f.Subscribe(func(v int) {
		got = append(got, v)
		// published during the replay, delivered after it
		if v == 2 {
			f.Publish(4)
		}
	})
	f.Publish(5)

	want := []int{2, 3, 4, 5}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("late subscriber saw %v, want %v", got, want)
	}

	var plain Feed[int]
	plain.Publish(1)
	seen := 0
	plain.Subscribe(func(int) { seen++ })
	if seen != 0 {
		t.Errorf("feed without replay delivered %d old values", seen)
	}
}
