package pool

import (
	"io"
	"runtime"
	"sync"
)

// task asks a worker to evaluate f at index i, and to signal done when finished.
type task struct {
	i    int
	f    func(int)
	done *sync.WaitGroup
}

// worker starts up a new worker, listening to tasks until the channel is closed.
func worker(tasks <-chan task) {
	for t := range tasks {
		t.f(t.i)
		t.done.Done()
	}
}

// Pool represents a pool of workers, used for parallelizing the exponentiations
// of a set encoding.
//
// Functions needing a *Pool will work with a nil receiver, doing the equivalent
// work on the current goroutine instead.
//
// By creating a pool, you avoid the overhead of spinning up goroutines for
// each new operation.
type Pool struct {
	// The common channel used to send tasks to the workers.
	//
	// This effectively makes a work stealing pool.
	tasks chan task
	// This holds the number of workers we've created
	workerCount int

	once sync.Once
}

// NewPool creates a new pool, with a certain number of workers.
//
// If count <= 0, this will use the number of available CPUs instead.
func NewPool(count int) *Pool {
	if count <= 0 {
		count = runtime.NumCPU()
	}
	p := &Pool{
		tasks:       make(chan task),
		workerCount: count,
	}
	for i := 0; i < count; i++ {
		go worker(p.tasks)
	}
	return p
}

// Workers returns the number of goroutines in the pool, or 1 for a nil pool.
func (p *Pool) Workers() int {
	if p == nil {
		return 1
	}
	return p.workerCount
}

// TearDown cleanly tears down a pool. It is safe to call more than once.
func (p *Pool) TearDown() {
	if p == nil {
		return
	}
	p.once.Do(func() { close(p.tasks) })
}

// Parallelize calls f count times, passing in indices from 0..count-1, and
// returns once every call has finished.
//
// f must only write to state owned by its index.
func (p *Pool) Parallelize(count int, f func(i int)) {
	if p == nil {
		for i := 0; i < count; i++ {
			f(i)
		}
		return
	}
	var wg sync.WaitGroup
	wg.Add(count)
	for i := 0; i < count; i++ {
		p.tasks <- task{i: i, f: f, done: &wg}
	}
	wg.Wait()
}

// LockedReader wraps an io.Reader to be safe for concurrent reads.
//
// This means acquiring a lock whenever a read happens, so be aware of that
// for performance or concurrency reasons.
type LockedReader struct {
	reader io.Reader
	m      sync.Mutex
}

// NewLockedReader creates a LockedReader by wrapping an underlying value.
func NewLockedReader(r io.Reader) *LockedReader {
	if lr, ok := r.(*LockedReader); ok {
		return lr
	}
	return &LockedReader{reader: r}
}

// Read implements io.Reader for LockedReader.
func (r *LockedReader) Read(p []byte) (int, error) {
	r.m.Lock()
	defer r.m.Unlock()
	return r.reader.Read(p)
}
