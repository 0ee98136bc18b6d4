package scheduler_test

import (
	"errors"
	"subdoc/internal/scheduler"
	"sync"
	"testing"
	"time"
)

func TestTasksRunInOrder(t *testing.T) {
	s := scheduler.NewScheduler()
	s.RunScheduler()

	var mu sync.Mutex
	var order []int
	for i := 0; i < 100; i++ {
		i := i
		s.Post("append", func() {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
		})
	}
	s.StopScheduler()

	if len(order) != 100 {
		t.Fatalf("ran %d tasks, want 100", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order[%d] = %d", i, v)
		}
	}
}

func TestScheduleDoesNotBlockOnBusyLoop(t *testing.T) {
	s := scheduler.NewScheduler()
	s.RunScheduler()
	defer s.StopScheduler()

	release := make(chan struct{})
	s.Post("block", func() { <-release })

	submitted := make(chan struct{})
	go func() {
		for i := 0; i < 1000; i++ {
			s.Post("noop", func() {})
		}
		close(submitted)
	}()

	select {
	case <-submitted:
	case <-time.After(time.Second):
		t.Fatal("submitting blocked while the loop was busy")
	}
	close(release)
}

func TestFailingAndPanickingTasksDoNotStopLoop(t *testing.T) {
	s := scheduler.NewScheduler()
	s.RunScheduler()

	ran := make(chan struct{})
	_ = s.Schedule(scheduler.Task{Name: "fail", Execute: func() error { return errors.New("boom") }})
	s.Post("panic", func() { panic("boom") })
	s.Post("after", func() { close(ran) })

	select {
	case <-ran:
	case <-time.After(time.Second):
		t.Fatal("loop stopped after a failing task")
	}
	s.StopScheduler()
}

func TestScheduleAfterStop(t *testing.T) {
	s := scheduler.NewScheduler()
	s.RunScheduler()
	s.StopScheduler()

	err := s.Schedule(scheduler.Task{Name: "late", Execute: func() error { return nil }})
	if !errors.Is(err, scheduler.ErrStopped) {
		t.Errorf("Schedule() error = %v, want ErrStopped", err)
	}
	// A second stop must not hang.
	s.StopScheduler()
}

func TestStopDrainsWithoutLoop(t *testing.T) {
	s := scheduler.NewScheduler()
	ran := false
	s.Post("queued", func() { ran = true })
	s.StopScheduler()
	if !ran {
		t.Error("queued task did not run on stop")
	}
}
