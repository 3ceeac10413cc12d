package memory

import "time"

// memoryMessage is a broadcast frame routed through the in-memory broker.
type memoryMessage struct {
	data      []byte
	topic     string
	timestamp time.Time
}

func (m *memoryMessage) Data() []byte         { return m.data }
func (m *memoryMessage) Topic() string        { return m.topic }
func (m *memoryMessage) Timestamp() time.Time { return m.timestamp }
