package ports

// Queue is a bounded hand-off between goroutines. Push never blocks: it
// reports false and drops the item when the queue is full.
type Queue[T any] interface {
	Push(item T) bool
	Pop() (T, bool)
	DrainAll(fn func(T)) int
	Len() int
}
