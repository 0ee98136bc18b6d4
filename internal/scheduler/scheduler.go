package scheduler

import (
	"errors"
	"sync"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("subdoc.scheduler")

var ErrStopped = errors.New("scheduler stopped")

type Task struct {
	Name    string
	Execute func() error
}

// Scheduler runs tasks one at a time, in submission order, on a single
// goroutine. The queue is unbounded so that submitting never blocks the
// caller, which is usually the connection's read loop.
type Scheduler struct {
	mu      sync.Mutex
	queue   []Task
	wake    chan struct{}
	stopped bool
	done    chan struct{}
	started bool
}

func NewScheduler() *Scheduler {
	return &Scheduler{
		wake: make(chan struct{}, 1),
		done: make(chan struct{}),
	}
}

// RunScheduler starts the scheduler loop
func (s *Scheduler) RunScheduler() {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return
	}
	s.started = true
	s.mu.Unlock()

	go func() {
		defer close(s.done)
		for {
			task, ok, stopped := s.next()
			if ok {
				s.execute(task)
				continue
			}
			if stopped {
				return
			}
			<-s.wake
		}
	}()
}

func (s *Scheduler) next() (Task, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 {
		return Task{}, false, s.stopped
	}
	task := s.queue[0]
	s.queue[0] = Task{}
	s.queue = s.queue[1:]
	return task, true, false
}

func (s *Scheduler) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("task %s panicked: %v", task.Name, r)
		}
	}()
	log.Debugf("executing %s", task.Name)
	if err := task.Execute(); err != nil {
		log.Errorf("task %s: %s", task.Name, err.Error())
	}
}

// Schedule queues task behind everything already submitted.
func (s *Scheduler) Schedule(task Task) error {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return ErrStopped
	}
	s.queue = append(s.queue, task)
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// Post is Schedule for callbacks that cannot fail. Work posted after the
// scheduler stopped is dropped.
func (s *Scheduler) Post(name string, f func()) {
	err := s.Schedule(Task{Name: name, Execute: func() error {
		f()
		return nil
	}})
	if err != nil {
		log.Debugf("dropped %s: %s", name, err.Error())
	}
}

// StopScheduler refuses further work, drains what is queued and waits for the
// loop to exit.
func (s *Scheduler) StopScheduler() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		<-s.done
		return
	}
	s.stopped = true
	started := s.started
	s.mu.Unlock()

	log.Info("stopping scheduler")
	if !started {
		s.drain()
		return
	}
	select {
	case s.wake <- struct{}{}:
	default:
	}
	<-s.done
	log.Info("scheduler stopped")
}

// drain executes whatever is queued on the caller's goroutine. It
// is used when the loop was never started.
func (s *Scheduler) drain() {
	for {
		task, ok, _ := s.next()
		if !ok {
			break
		}
		s.execute(task)
	}
	s.mu.Lock()
	if !s.started {
		s.started = true
		close(s.done)
	}
	s.mu.Unlock()
}
