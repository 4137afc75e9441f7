package engine

import (
	"crypto/sha1"
	"encoding/binary"
	"encoding/hex"
)

// Checksum is a digest over the records of a ReadEngine.
type Checksum [sha1.Size]byte

func (c Checksum) String() string { return hex.EncodeToString(c[:]) }

// ChecksumOfCommonSchemas computes a Checksum over the records of |of|,
// restricted to types whose schemas are identically present in |common|.
// The restriction is what makes checksums of adjacent states comparable
// when the schema set changes between versions.
func ChecksumOfCommonSchemas(of, common *ReadEngine) Checksum {
	var summer = sha1.New()
	var scratch [binary.MaxVarintLen64]byte

	// |of.order| is sorted by type name, so the digest is deterministic.
	for _, name := range of.order {
		var rt = of.types[name]
		var ct, ok = common.types[name]
		if !ok || !ct.schema.Equal(rt.schema) {
			continue
		}

		summer.Write([]byte(name))
		for ordinal, rec := range rt.byOrdinal {
			if rec == nil {
				continue
			}
			summer.Write(scratch[:binary.PutUvarint(scratch[:], uint64(ordinal))])
			summer.Write(rec)
		}
	}

	var c Checksum
	summer.Sum(c[:0])
	return c
}
