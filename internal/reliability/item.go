package reliability

// Item pairs a queued payload with the number of attempts already made.
// Items are passed by value; each attempt works on a new value.
type Item[T any] struct {
	Message  T
	Attempts int
}

func newItem[T any](message T) Item[T] {
	return Item[T]{Message: message}
}

// next returns the item for the following attempt
func (i Item[T]) next() Item[T] {
	return Item[T]{Message: i.Message, Attempts: i.Attempts + 1}
}
