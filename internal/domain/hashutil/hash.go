// Package hashutil implements the canonical hashing contract shared between
// the client SDK and the gateway: both sides must derive bit-identical
// digests from the same tool-call arguments so an approval token's binding
// cannot be defeated by re-ordering or re-encoding an argument tree.
package hashutil

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// approvalTokenField is stripped from the top level of an argument tree
// before hashing so that attaching or removing a token never changes the
// hash the token itself is bound to.
const approvalTokenField = "approvalToken"

// ArgsHash canonicalizes args and returns a 256-bit hex digest.
//
// Canonicalization: (a) the top-level "approvalToken" field is removed,
// (b) object keys are sorted lexicographically at every depth, (c) JSON
// `undefined` has no Go representation so there is nothing to drop there;
// Go's nil map values serialize as JSON null and are preserved, (d) the
// result is serialized with no insignificant whitespace, (e) the UTF-8
// bytes are hashed.
func ArgsHash(args map[string]interface{}) string {
	clean := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == approvalTokenField {
			continue
		}
		clean[k] = v
	}
	canonical := canonicalize(clean)
	return hashBytes(canonical)
}

// RequestHash binds a tool name, upstream id, and args hash together into a
// single digest used as an ApprovalToken's primary binding field.
func RequestHash(toolName, upstreamID, argsHash string) string {
	s := toolName + ":" + upstreamID + ":" + argsHash
	return hashBytes([]byte(s))
}

// HashToken returns the stored digest of a raw single-use token. The raw
// token is never persisted except transiently for first-poll retrieval
// (see internal/domain/approval); this digest is what the store indexes.
func HashToken(raw string) string {
	return hashBytes([]byte(raw))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// canonicalize recursively sorts object keys and serializes to compact JSON
// with no insignificant whitespace. It round-trips through encoding/json's
// own marshaling for scalars and arrays, and only intervenes on maps.
func canonicalize(v interface{}) []byte {
	var buf []byte
	writeCanonical(&buf, v)
	return buf
}

func writeCanonical(buf *[]byte, v interface{}) {
	switch val := v.(type) {
	case map[string]interface{}:
		writeObject(buf, val)
	case []interface{}:
		writeArray(buf, val)
	default:
		// Scalars (string, float64, bool, nil) and any other JSON-marshalable
		// value round-trip through the standard encoder, which already emits
		// compact, deterministic output for these kinds.
		b, err := json.Marshal(val)
		if err != nil {
			// Arguments are assumed JSON-compatible by the time they reach
			// this layer (the classifier/redactor already walked the tree);
			// a marshal failure here means a caller passed something that
			// was never valid tool-call JSON in the first place.
			b = []byte("null")
		}
		*buf = append(*buf, b...)
	}
}

func writeObject(buf *[]byte, m map[string]interface{}) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	*buf = append(*buf, '{')
	for i, k := range keys {
		if i > 0 {
			*buf = append(*buf, ',')
		}
		kb, _ := json.Marshal(k)
		*buf = append(*buf, kb...)
		*buf = append(*buf, ':')
		writeCanonical(buf, m[k])
	}
	*buf = append(*buf, '}')
}

func writeArray(buf *[]byte, a []interface{}) {
	*buf = append(*buf, '[')
	for i, el := range a {
		if i > 0 {
			*buf = append(*buf, ',')
		}
		writeCanonical(buf, el)
	}
	*buf = append(*buf, ']')
}
