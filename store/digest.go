package store

import (
	"bytes"
	"crypto/md5"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"
)

func md5Hex(b []byte) string {
	sum := md5.Sum(b)
	return hex.EncodeToString(sum[:])
}

// attributesDigest computes the MD5 of the canonical attribute encoding:
// attributes sorted by name, each as length-prefixed name, data type and
// value, with transport byte 1 for String/Number and 2 for Binary.
// It returns "" for an empty set.
func attributesDigest(attrs map[string]AttributeValue) string {
	if len(attrs) == 0 {
		return ""
	}
	names := make([]string, 0, len(attrs))
	for k := range attrs {
		names = append(names, k)
	}
	sort.Strings(names)

	var buf bytes.Buffer
	for _, name := range names {
		v := attrs[name]
		writeLengthPrefixed(&buf, []byte(name))
		writeLengthPrefixed(&buf, []byte(v.DataType()))
		if v.Kind == KindBinary {
			buf.WriteByte(2)
			writeLengthPrefixed(&buf, v.BinaryValue)
		} else {
			buf.WriteByte(1)
			writeLengthPrefixed(&buf, []byte(v.StringValue))
		}
	}
	return md5Hex(buf.Bytes())
}

// traceHeaderDigest digests the AWSTraceHeader system attribute, the only
// system attribute a sender may set.
func traceHeaderDigest(header string) string {
	if header == "" {
		return ""
	}
	var buf bytes.Buffer
	writeLengthPrefixed(&buf, []byte("AWSTraceHeader"))
	writeLengthPrefixed(&buf, []byte("String"))
	buf.WriteByte(1)
	writeLengthPrefixed(&buf, []byte(header))
	return md5Hex(buf.Bytes())
}

func writeLengthPrefixed(buf *bytes.Buffer, b []byte) {
	binary.Write(buf, binary.BigEndian, int32(len(b)))
	buf.Write(b)
}

// contentDedupID is the deduplication id used by content-based
// deduplication: a SHA-256 over the body and the attribute digest.
func contentDedupID(body string, attrs map[string]AttributeValue) string {
	h := sha256.New()
	h.Write([]byte(body))
	h.Write([]byte(attributesDigest(attrs)))
	return hex.EncodeToString(h.Sum(nil))
}
