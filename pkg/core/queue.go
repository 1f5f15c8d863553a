package core

// Queue - unbounded FIFO between a fast producer and a slow consumer.
// Writes to In never block, Out is closed after In is closed and all items are delivered.
type Queue[T any] struct {
	in  chan T
	out chan T
}

func NewQueue[T any]() *Queue[T] {
	q := &Queue[T]{
		in:  make(chan T),
		out: make(chan T),
	}
	go q.run()
	return q
}

func (q *Queue[T]) In() chan<- T {
	return q.in
}

func (q *Queue[T]) Out() <-chan T {
	return q.out
}

func (q *Queue[T]) run() {
	defer close(q.out)

	var items []T
	in := q.in

	for in != nil || len(items) > 0 {
		var out chan T
		var next T
		if len(items) > 0 {
			out = q.out
			next = items[0]
		}

		select {
		case item, ok := <-in:
			if !ok {
				in = nil
				continue
			}
			items = append(items, item)
		case out <- next:
			var zero T
			items[0] = zero
			items = items[1:]
		}
	}
}
