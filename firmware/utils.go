package firmware

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
)

// Largest flash on any supported chip. Sparse containers are rejected
// rather than padded out past this.
const MaxImageSpan = 16 * 1024 * 1024

// Erased flash reads as 0xFF, so that's what fills holes in an image
func MakePadding(length int) []byte {
	return bytes.Repeat([]byte{0xFF}, length)
}

// Produce an md5 string from given data (a simple shortcut)
func Md5String(data []byte) string {
	hash := md5.Sum(data)
	return hex.EncodeToString(hash[:])
}
