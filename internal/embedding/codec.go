// Package embedding normalizes, quantizes and compares semantic vectors.
// It knows nothing about persistence beyond the byte layout of a blob.
package embedding

import (
	"encoding/binary"
	"errors"
	"math"
)

// ErrMalformedBlob is returned when a float32 blob's length is not a multiple of 4.
var ErrMalformedBlob = errors.New("malformed embedding blob")

// maxLevel is the largest magnitude a quantized component can take.
const maxLevel = 127

// Norm returns the L2 norm of v.
func Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// Normalize returns a copy of v scaled to unit L2 norm. A zero vector is
// returned unchanged.
func Normalize(v []float32) []float32 {
	out := make([]float32, len(v))
	n := Norm(v)
	if n == 0 || math.IsNaN(n) || math.IsInf(n, 0) {
		copy(out, v)
		return out
	}
	for i, x := range v {
		out[i] = float32(float64(x) / n)
	}
	return out
}

// Quantize maps v onto int8 using a per-vector dynamic range: the largest
// magnitude component lands on ±127 and everything else scales with it.
func Quantize(v []float32) []int8 {
	var m float64
	for _, x := range v {
		if a := math.Abs(float64(x)); a > m && !math.IsInf(a, 0) {
			m = a
		}
	}
	scale := 1.0
	if m > 0 {
		scale = maxLevel / m
	}

	q := make([]int8, len(v))
	for i, x := range v {
		r := math.Round(float64(x) * scale)
		switch {
		case math.IsNaN(r):
			r = 0
		case r > maxLevel:
			r = maxLevel
		case r < -maxLevel:
			r = -maxLevel
		}
		q[i] = int8(r)
	}
	return q
}

// Dequantize maps q back to a unit-norm float direction. The original
// magnitude is not recoverable since the scale is not stored.
func Dequantize(q []int8) []float32 {
	v := make([]float32, len(q))
	for i, x := range q {
		v[i] = float32(x) / maxLevel
	}
	return Normalize(v)
}

// CosineSimilarity computes dot(a,b)/(|a||b|). Vectors of different length,
// empty vectors and zero vectors yield 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}

// DotUnit is the cosine fast path for inputs already known to be unit length.
// Callers that cannot guarantee that should use CosineSimilarity.
func DotUnit(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
	}
	return float32(dot)
}

// CosineSimilarityQuantized computes cosine similarity over int8 vectors.
// Sums are accumulated in int64 and only the final division is floating point.
func CosineSimilarityQuantized(a, b []int8) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb int64
	for i := range a {
		x, y := int64(a[i]), int64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(float64(dot) / (math.Sqrt(float64(na)) * math.Sqrt(float64(nb))))
}

// EncodeFloat32s serializes v as little-endian float32 components.
func EncodeFloat32s(v []float32) []byte {
	buf := make([]byte, len(v)*4)
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// DecodeFloat32s deserializes a little-endian float32 blob.
func DecodeFloat32s(b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrMalformedBlob
	}
	return DecodeFloat32sInto(make([]float32, len(b)/4), b)
}

// DecodeFloat32sInto decodes b into dst, growing it if needed, so a scan over
// many rows can reuse one buffer.
func DecodeFloat32sInto(dst []float32, b []byte) ([]float32, error) {
	if len(b)%4 != 0 {
		return nil, ErrMalformedBlob
	}
	n := len(b) / 4
	if cap(dst) < n {
		dst = make([]float32, n)
	}
	dst = dst[:n]
	for i := range dst {
		dst[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return dst, nil
}

// EncodeInt8s serializes q one byte per component.
func EncodeInt8s(q []int8) []byte {
	buf := make([]byte, len(q))
	for i, x := range q {
		buf[i] = byte(x)
	}
	return buf
}

// DecodeInt8s deserializes a one-byte-per-component blob.
func DecodeInt8s(b []byte) []int8 {
	return DecodeInt8sInto(nil, b)
}

// DecodeInt8sInto is DecodeInt8s with buffer reuse.
func DecodeInt8sInto(dst []int8, b []byte) []int8 {
	if cap(dst) < len(b) {
		dst = make([]int8, len(b))
	}
	dst = dst[:len(b)]
	for i, x := range b {
		dst[i] = int8(x)
	}
	return dst
}

// Blob normalizes v and encodes it for storage, quantized or as float32.
// The returned dimensions count is the component count of v.
func Blob(v []float32, quantize bool) (blob []byte, dimensions int) {
	unit := Normalize(v)
	if quantize {
		return EncodeInt8s(Quantize(unit)), len(v)
	}
	return EncodeFloat32s(unit), len(v)
}

// Dimensions reports the component count of a stored blob.
func Dimensions(blob []byte, quantized bool) int {
	if quantized {
		return len(blob)
	}
	return len(blob) / 4
}
