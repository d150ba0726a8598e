package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Use this to release a producer goroutine when a [Segment] is abandoned
// before it was played.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
