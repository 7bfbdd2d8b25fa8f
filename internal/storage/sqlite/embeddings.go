// ABOUTME: Binary encoding of embedding vectors stored in SQLite BLOB columns
// ABOUTME: Vectors are little-endian float32, four bytes per dimension
package sqlite

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/harper/kbdistill/internal/models"
)

// vectorToBlob converts a float32 slice to binary blob; nil stays nil so the column is NULL
func vectorToBlob(vector []float32) []byte {
	if len(vector) == 0 {
		return nil
	}
	blob := make([]byte, len(vector)*4)
	for i, v := range vector {
		binary.LittleEndian.PutUint32(blob[i*4:], math.Float32bits(v))
	}
	return blob
}

// blobToVector converts a binary blob to float32 slice
func blobToVector(blob []byte) []float32 {
	if len(blob) == 0 {
		return nil
	}
	count := len(blob) / 4
	vector := make([]float32, count)
	for i := 0; i < count; i++ {
		vector[i] = math.Float32frombits(binary.LittleEndian.Uint32(blob[i*4:]))
	}
	return vector
}

// fieldColumn maps an embedding field to its column; only known fields are accepted
func fieldColumn(field models.EmbeddingField) (string, error) {
	switch field {
	case models.FieldSemantic:
		return "semantic_embedding", nil
	case models.FieldRetrieval:
		return "retrieval_embedding", nil
	default:
		return "", fmt.Errorf("unknown embedding field %q", field)
	}
}
