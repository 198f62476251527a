package obbtile

import (
	"encoding/binary"
	"fmt"

	"github.com/x448/float16"
)

var f16LookupTable [65536]float32

func init() {
	// precompute float16 lookup table for faster conversion to float32
	for i := range f16LookupTable {
		f16 := float16.Frombits(uint16(i))
		f16LookupTable[i] = f16.Float32()
	}
}

// EncodeFloat16 converts a float32 tensor to half precision little endian
// bytes, halving the size of the tensor sent to a remote detector
func EncodeFloat16(src []float32) []byte {

	out := make([]byte, len(src)*2)

	for i, v := range src {
		binary.LittleEndian.PutUint16(out[i*2:], float16.Fromfloat32(v).Bits())
	}

	return out
}

// DecodeFloat16 converts half precision little endian bytes back to float32
func DecodeFloat16(src []byte) ([]float32, error) {

	if len(src)%2 != 0 {
		return nil, fmt.Errorf("float16 data has odd length %d", len(src))
	}

	out := make([]float32, len(src)/2)

	for i := range out {
		out[i] = f16LookupTable[binary.LittleEndian.Uint16(src[i*2:])]
	}

	return out, nil
}
