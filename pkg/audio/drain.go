package audio

// Drain reads from ch until the channel is closed, discarding all values.
// Consumers that stop caring about a provider's event stream call it so the
// producing goroutine is never left blocked on a send.
func Drain[T any](ch <-chan T) {
	for range ch {
	}
}
