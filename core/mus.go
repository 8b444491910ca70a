package core

import (
	"github.com/mus-format/mus-go"
	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
)

// EmbeddingRecordMUS encodes an EmbeddingRecord in MUS format: the three
// strings length-prefixed, the vector as a length-prefixed run of
// fixed-width little-endian float32s.
var EmbeddingRecordMUS = embeddingRecordMUS{}

var vectorMUS = ord.NewSliceSer[float32](raw.Float32)

var _ mus.Serializer[EmbeddingRecord] = embeddingRecordMUS{}

type embeddingRecordMUS struct{}

func (s embeddingRecordMUS) Marshal(v EmbeddingRecord, bs []byte) (n int) {
	n = ord.String.Marshal(v.ChunkID, bs)
	n += vectorMUS.Marshal(v.Vector, bs[n:])
	n += ord.String.Marshal(v.URL, bs[n:])
	return n + ord.String.Marshal(v.JobID, bs[n:])
}

func (s embeddingRecordMUS) Unmarshal(bs []byte) (v EmbeddingRecord, n int, err error) {
	v.ChunkID, n, err = ord.String.Unmarshal(bs)
	if err != nil {
		return
	}
	var n1 int
	v.Vector, n1, err = vectorMUS.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.URL, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	if err != nil {
		return
	}
	v.JobID, n1, err = ord.String.Unmarshal(bs[n:])
	n += n1
	return
}

func (s embeddingRecordMUS) Size(v EmbeddingRecord) (size int) {
	return ord.String.Size(v.ChunkID) +
		vectorMUS.Size(v.Vector) +
		ord.String.Size(v.URL) +
		ord.String.Size(v.JobID)
}

func (s embeddingRecordMUS) Skip(bs []byte) (n int, err error) {
	n, err = ord.String.Skip(bs)
	if err != nil {
		return
	}
	var n1 int
	for _, skip := range []func([]byte) (int, error){vectorMUS.Skip, ord.String.Skip, ord.String.Skip} {
		n1, err = skip(bs[n:])
		n += n1
		if err != nil {
			return
		}
	}
	return
}
