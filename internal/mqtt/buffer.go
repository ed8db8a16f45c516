package mqtt

// message is a serialized MQTT message held for replay after reconnection.
type message struct {
	topic    string
	payload  []byte
	qos      byte
	retained bool
}

// backlog is a bounded FIFO of messages published while disconnected. When
// full, the oldest message is dropped. Not safe for concurrent use.
type backlog struct {
	msgs    []message
	start   int
	size    int
	dropped int
}

func newBacklog(capacity int) *backlog {
	if capacity < 1 {
		capacity = 1
	}
	return &backlog{msgs: make([]message, capacity)}
}

func (b *backlog) push(m message) {
	end := (b.start + b.size) % len(b.msgs)
	b.msgs[end] = m
	if b.size == len(b.msgs) {
		b.start = (b.start + 1) % len(b.msgs)
		b.dropped++
		return
	}
	b.size++
}

// drain empties the backlog, oldest first, and reports how many messages
// were lost to overflow since the last drain.
func (b *backlog) drain() (msgs []message, dropped int) {
	for i := 0; i < b.size; i++ {
		msgs = append(msgs, b.msgs[(b.start+i)%len(b.msgs)])
	}
	dropped = b.dropped
	b.start, b.size, b.dropped = 0, 0, 0
	return msgs, dropped
}

func (b *backlog) len() int {
	return b.size
}
