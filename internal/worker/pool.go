package worker

import (
	"sync"
)

// Job is one unit of work; the grading dispatcher hands outbound grader
// calls to the pool so a burst of submissions cannot flood the grader.
type Job interface {
	Execute()
}

type Pool struct {
	mu   sync.Mutex
	size int
	jobs chan Job
	kill chan struct{}
	wg   sync.WaitGroup
}

func NewPool(speed int, queue int) *Pool {
	pool := &Pool{
		jobs: make(chan Job, queue),
		kill: make(chan struct{}),
	}
	pool.Resize(speed)
	return pool
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for {
		select {
		case job, ok := <-p.jobs:
			if !ok {
				return
			}
			job.Execute()
		case <-p.kill:
			return
		}
	}
}

func (p *Pool) Resize(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.size < n {
		p.size++
		p.wg.Add(1)
		go p.worker()
	}
	for p.size > n {
		p.size--
		p.kill <- struct{}{}
	}
}

func (p *Pool) Close() {
	close(p.jobs)
}

func (p *Pool) Wait() {
	p.wg.Wait()
}

func (p *Pool) Exec(job Job) {
	p.jobs <- job
}
