package embedding

import (
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned by Query.Score when a stored vector has a
// different component count than the query.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// Query holds a search vector prepared for both stored encodings. The int8
// form is quantized with the query's own scale, which is sound because
// cosine similarity ignores magnitude.
//
// A Query reuses internal decode buffers and is not safe for concurrent use.
type Query struct {
	unit  []float32
	quant []int8

	fbuf []float32
	qbuf []int8
}

// NewQuery prepares v for scoring against stored blobs.
func NewQuery(v []float32) *Query {
	unit := Normalize(v)
	return &Query{unit: unit, quant: Quantize(unit)}
}

// Len is the query's component count.
func (q *Query) Len() int { return len(q.unit) }

// Score decodes blob and returns its cosine similarity to the query.
func (q *Query) Score(blob []byte, quantized bool) (float32, error) {
	if quantized {
		q.qbuf = DecodeInt8sInto(q.qbuf, blob)
		if len(q.qbuf) != len(q.quant) {
			return 0, fmt.Errorf("%w: stored %d, query %d", ErrDimensionMismatch, len(q.qbuf), len(q.quant))
		}
		return CosineSimilarityQuantized(q.quant, q.qbuf), nil
	}

	var err error
	q.fbuf, err = DecodeFloat32sInto(q.fbuf, blob)
	if err != nil {
		return 0, err
	}
	if len(q.fbuf) != len(q.unit) {
		return 0, fmt.Errorf("%w: stored %d, query %d", ErrDimensionMismatch, len(q.fbuf), len(q.unit))
	}
	return CosineSimilarity(q.unit, q.fbuf), nil
}
