package worker

import (
	"github.com/rs/zerolog/log"
	tomb "gopkg.in/tomb.v2"
)

const (
	TASK_CHAN_SIZE = 100
)

// Function handles one task. Returning an error kills the pool's tomb.
type Function = func(t *tomb.Tomb, task any) error

type Pool struct {
	n     int      // number of workers
	tasks chan any // pending tasks
	work  Function // do work method
}

func NewPool(size uint) *Pool {
	if size == 0 {
		size = 1
	}
	return &Pool{
		n:     int(size),
		tasks: make(chan any, TASK_CHAN_SIZE),
	}
}

// Size is the number of workers the pool runs.
func (pool *Pool) Size() int { return pool.n }

// AddTask queues a task, giving up if the tomb starts dying first.
func (pool *Pool) AddTask(t *tomb.Tomb, task any) bool {
	select {
	case pool.tasks <- task:
		return true
	case <-t.Dying():
		return false
	}
}

// Setup starts the workers on t. They run until t starts dying.
func (pool *Pool) Setup(t *tomb.Tomb, work Function) {
	pool.work = work
	for id := 0; id < pool.n; id++ {
		t.Go(func() error {
			return pool.worker(t, id)
		})
	}
}

// Workers wait on tasks in the task queue and action them.
func (pool *Pool) worker(t *tomb.Tomb, id int) error {
	for {
		select {
		case <-t.Dying():
			return nil
		case task := <-pool.tasks:
			if err := pool.work(t, task); err != nil {
				log.Error().Err(err).Int("id", id).Msg("worker exiting")
				return err
			}
		}
	}
}
