package broker

// Broker is a simple fan-out message broker. Subscribers receive every
// message published after their subscription; publishing never blocks
// the publisher for longer than it takes each subscriber channel to
// accept the message.
type Broker[T any] struct {
	stopCh      chan struct{}
	publishCh   chan T
	subscribeCh chan chan T
	unsubCh     chan chan T
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{
		stopCh:      make(chan struct{}),
		publishCh:   make(chan T, 1),
		subscribeCh: make(chan chan T, 1),
		unsubCh:     make(chan chan T, 1),
	}
}

// Start runs the broker loop. This method blocks until Stop is called
// and so is typically run in its own goroutine.
func (broker *Broker[T]) Start() {
	subscribers := map[chan T]struct{}{}
	for {
		select {
		case <-broker.stopCh:
			return
		case msgCh := <-broker.subscribeCh:
			subscribers[msgCh] = struct{}{}
		case msgCh := <-broker.unsubCh:
			delete(subscribers, msgCh)
		case msg := <-broker.publishCh:
			for msgCh := range subscribers {
				// Buffered channels are used to avoid a slow subscriber
				// stalling every other subscriber.
				select {
				case msgCh <- msg:
				default:
				}
			}
		}
	}
}

func (broker *Broker[T]) Stop() {
	close(broker.stopCh)
}

func (broker *Broker[T]) Subscribe() chan T {
	msgCh := make(chan T, 5)
	broker.subscribeCh <- msgCh
	return msgCh
}

func (broker *Broker[T]) Unsubscribe(msgCh chan T) {
	broker.unsubCh <- msgCh
}

func (broker *Broker[T]) Publish(msg T) {
	broker.publishCh <- msg
}
