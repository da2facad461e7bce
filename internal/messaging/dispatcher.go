package messaging

import (
	"hash/fnv"
	"sync"

	"github.com/sirupsen/logrus"
)

// Dispatcher runs side-effect tasks off the request path. Tasks sharing a
// key run on the same worker, so they execute in submission order.
type Dispatcher struct {
	queues []chan func()
	log    logrus.FieldLogger
	wg     sync.WaitGroup
	once   sync.Once
}

// NewDispatcher starts workers, each with a buffer of size tasks.
func NewDispatcher(workers, size int, log logrus.FieldLogger) *Dispatcher {
	if workers < 1 {
		workers = 1
	}
	d := &Dispatcher{
		queues: make([]chan func(), workers),
		log:    log,
	}
	for i := range d.queues {
		d.queues[i] = make(chan func(), size)
		d.wg.Add(1)
		go d.run(d.queues[i])
	}
	return d
}

func (d *Dispatcher) run(tasks <-chan func()) {
	defer d.wg.Done()
	for task := range tasks {
		d.safely(task)
	}
}

func (d *Dispatcher) safely(task func()) {
	defer func() {
		if r := recover(); r != nil {
			d.log.WithField("panic", r).Error("dispatcher task panicked")
		}
	}()
	task()
}

// Submit queues task on the worker owning key. It blocks while that
// worker's buffer is full.
func (d *Dispatcher) Submit(key string, task func()) {
	h := fnv.New32a()
	h.Write([]byte(key))
	d.queues[h.Sum32()%uint32(len(d.queues))] <- task
}

// Close drains queued tasks and stops the workers. Submit must not be
// called afterwards.
func (d *Dispatcher) Close() {
	d.once.Do(func() {
		for _, q := range d.queues {
			close(q)
		}
	})
	d.wg.Wait()
}
