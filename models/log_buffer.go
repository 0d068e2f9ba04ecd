package models

// LogBuffer is a fixed-capacity FIFO of log lines. Appending beyond
// capacity silently drops the oldest entry.
type LogBuffer struct {
	capacity int
	entries  []string
	start    int
}

func NewLogBuffer(capacity int) *LogBuffer {
	if capacity <= 0 {
		capacity = 1
	}
	return &LogBuffer{
		capacity: capacity,
		entries:  make([]string, 0, capacity),
	}
}

func (b *LogBuffer) Append(line string) {
	if len(b.entries) < b.capacity {
		b.entries = append(b.entries, line)
		return
	}
	b.entries[b.start] = line
	b.start = (b.start + 1) % b.capacity
}

func (b *LogBuffer) Len() int {
	return len(b.entries)
}

// Lines returns the buffered entries in append order, oldest first.
func (b *LogBuffer) Lines() []string {
	out := make([]string, 0, len(b.entries))
	for i := 0; i < len(b.entries); i++ {
		out = append(out, b.entries[(b.start+i)%len(b.entries)])
	}
	return out
}
