package cache

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"strconv"

	"github.com/miradorstack/agentic-reviewer/internal/models"
)

const keyPrefix = "review:"

// Fingerprint derives the cache key for a review request. Every field is
// length-prefixed, so distinct tuples never hash the same input.
func Fingerprint(text, predictedLabel string, confidence float64, mode models.AgentMode) string {
	h := sha256.New()
	var lenBuf [8]byte
	for _, field := range []string{
		text,
		predictedLabel,
		strconv.FormatFloat(confidence, 'g', -1, 64),
		string(mode),
	} {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(field)))
		h.Write(lenBuf[:])
		h.Write([]byte(field))
	}
	return keyPrefix + hex.EncodeToString(h.Sum(nil))
}

// SampleFingerprint is Fingerprint applied to a sample.
func SampleFingerprint(s models.Sample, mode models.AgentMode) string {
	return Fingerprint(s.Text, s.PredictedLabel, s.Confidence, mode)
}
