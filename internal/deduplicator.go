package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
)

// MessageFingerprint returns a content hash of the mutable parts of a message.
// Two deliveries of the same message id with equal fingerprints are duplicates.
func MessageFingerprint(m Message) string {
	h := sha256.New()

	h.Write([]byte(m.ID))
	h.Write([]byte{0})
	h.Write([]byte(m.Role))
	h.Write([]byte{0})
	h.Write([]byte(m.Content))
	h.Write([]byte{0})
	h.Write([]byte(m.Model))
	h.Write([]byte{0})
	h.Write([]byte(strconv.FormatBool(m.Streaming)))
	h.Write([]byte(strconv.FormatBool(m.Error)))
	h.Write([]byte(FormatTime(m.Timestamp)))

	// encoding/json sorts map keys, so equal maps hash equally
	if len(m.Metadata) > 0 {
		if data, err := json.Marshal(m.Metadata); err == nil {
			h.Write(data)
		}
	}
	for _, a := range m.Attachments {
		h.Write([]byte(a.ID))
		h.Write([]byte(a.Name))
	}

	return hex.EncodeToString(h.Sum(nil))
}

// SameMessage reports whether two messages carry identical content
func SameMessage(a, b Message) bool {
	return MessageFingerprint(a) == MessageFingerprint(b)
}
