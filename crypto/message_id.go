package crypto

import (
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/blake2b"
)

// messageIDSize is the digest length in bytes; hex encoding doubles it.
const messageIDSize = 16

// MessageID derives the stable identity of an inbound message observed on one
// device. Fields are length-prefixed so that no two distinct tuples collide by
// concatenation.
func MessageID(device string, timestamp int64, sender, body string) string {
	h, err := blake2b.New(messageIDSize, nil)
	if err != nil {
		// Only reachable with an invalid size or key.
		panic(err)
	}

	writeField(h, []byte(device))
	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(timestamp))
	writeField(h, ts[:])
	writeField(h, []byte(sender))
	writeField(h, []byte(body))

	return hex.EncodeToString(h.Sum(nil))
}

func writeField(h hash.Hash, field []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(field)))
	_, _ = h.Write(n[:])
	_, _ = h.Write(field)
}
