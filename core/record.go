package core

// Header is a single record header. Names may repeat within a record.
type Header struct {
	Key   string
	Value []byte
}

// Headers preserves the order the headers arrived in
type Headers []Header

// LastWithName returns the last header called name, later headers win
func (h Headers) LastWithName(name string) (Header, bool) {
	for i := len(h) - 1; i >= 0; i-- {
		if h[i].Key == name {
			return h[i], true
		}
	}
	return Header{}, false
}

// Record is one unit handed over by the host. The pipeline never mutates it.
type Record struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte // nil when the record has no key
	Value     any    // already deserialized
	Headers   Headers
}
