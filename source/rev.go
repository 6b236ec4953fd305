package source

import (
	"encoding/binary"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/crypto/blake2b"
)

// NextRev returns the revision following prev, "<generation>-<digest>",
// with the digest a blake2b hash over prev, the owner tag and seq. The
// generation counts writes, as in CouchDB revision tokens.
func NextRev(prev, owner string, seq uint64) string {
	gen := 0
	if g, _, ok := strings.Cut(prev, "-"); ok {
		gen, _ = strconv.Atoi(g)
	}
	h, _ := blake2b.New(16, nil)
	h.Write([]byte(prev))
	h.Write([]byte{0})
	h.Write([]byte(owner))
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], seq)
	h.Write(buf[:])
	return fmt.Sprintf("%d-%x", gen+1, h.Sum(nil))
}
