package ubidots

// MaxValues is the number of records one publish can carry.
const MaxValues = 5

// Record is one reading waiting to be published.
type Record struct {
	// Label is the Ubidots variable label. It becomes the JSON key.
	Label string
	// Value is serialized with two decimal places.
	Value float64
	// Context is a raw JSON fragment placed inside the record's
	// "context" object without escaping, e.g. `"lat": 1.5, "lng": 2`.
	// Empty means no context.
	Context string
	// Timestamp is a Unix time in seconds. Zero means no timestamp.
	Timestamp uint32
}

// Buffer holds up to [MaxValues] records in insertion order. The zero
// value is an empty buffer.
type Buffer struct {
	records [MaxValues]Record
	count   int
}

// Add appends r. When the buffer is already full the last slot is
// overwritten and Add returns false; the count stays at [MaxValues].
func (b *Buffer) Add(r Record) bool {
	if b.count >= MaxValues {
		b.records[MaxValues-1] = r
		return false
	}
	b.records[b.count] = r
	b.count++
	return true
}

// Len returns the number of pending records.
func (b *Buffer) Len() int { return b.count }

// Records returns the pending records. The slice aliases the buffer and
// is only valid until the next Add or Reset.
func (b *Buffer) Records() []Record { return b.records[:b.count] }

// Reset discards all pending records.
func (b *Buffer) Reset() {
	b.records = [MaxValues]Record{}
	b.count = 0
}
