package gatehousejson

import (
	"io"
	"runtime"

	jsoniter "github.com/json-iterator/go"
)

// DefaultChunkSize bounds how many payload bytes are fed to the streaming
// decoder before the scheduler is yielded to.
const DefaultChunkSize = 16 * 1024

// chunkReader serves data in bounded chunks, invoking yield between chunks so
// decoding one large payload cannot monopolize the event loop.
type chunkReader struct {
	data  []byte
	off   int
	chunk int
	yield func()
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if r.off >= len(r.data) {
		return 0, io.EOF
	}

	if r.off > 0 {
		r.yield()
	}

	n := len(p)
	if n > r.chunk {
		n = r.chunk
	}

	if remaining := len(r.data) - r.off; n > remaining {
		n = remaining
	}

	copy(p, r.data[r.off:r.off+n])
	r.off += n

	return n, nil
}

func newChunkReader(data []byte, chunkSize int, yield func()) *chunkReader {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	if yield == nil {
		yield = runtime.Gosched
	}

	return &chunkReader{
		data:  data,
		chunk: chunkSize,
		yield: yield,
	}
}

// UnmarshalChunked decodes data into v through a bounded-chunk reader,
// yielding between chunks.
func UnmarshalChunked(data []byte, v any, chunkSize int, yield func()) error {
	return UnmarshalReader(newChunkReader(data, chunkSize, yield), v)
}

// DecodeTree incrementally parses data into a generic tree value built from
// map[string]any, []any and scalars, yielding between chunks the same way
// UnmarshalChunked does.
func DecodeTree(data []byte, chunkSize int, yield func()) (any, error) {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	iter := jsoniter.Parse(jsoniter.ConfigDefault, newChunkReader(data, chunkSize, yield), chunkSize)

	value := readTreeValue(iter)

	if err := iter.Error; err != nil && err != io.EOF {
		return nil, err
	}

	return value, nil
}

func readTreeValue(iter *jsoniter.Iterator) any {
	switch iter.WhatIsNext() {
	case jsoniter.ObjectValue:
		object := make(map[string]any)

		iter.ReadObjectCB(func(iter *jsoniter.Iterator, key string) bool {
			object[key] = readTreeValue(iter)

			return iter.Error == nil || iter.Error == io.EOF
		})

		return object
	case jsoniter.ArrayValue:
		array := make([]any, 0)

		iter.ReadArrayCB(func(iter *jsoniter.Iterator) bool {
			array = append(array, readTreeValue(iter))

			return iter.Error == nil || iter.Error == io.EOF
		})

		return array
	case jsoniter.StringValue:
		return iter.ReadString()
	case jsoniter.NumberValue:
		return iter.ReadFloat64()
	case jsoniter.BoolValue:
		return iter.ReadBool()
	case jsoniter.NilValue:
		iter.ReadNil()

		return nil
	default:
		iter.Skip()

		return nil
	}
}
