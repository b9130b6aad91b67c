package tollgate

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
)

// approvalTokenField is stripped from the top level of an argument tree
// before hashing so attaching a token never changes the hash the token
// itself is bound to. Mirrors the gateway's internal/domain/hashutil.
const approvalTokenField = "approvalToken"

// argsHash canonicalizes args and returns a 256-bit hex digest, bit-identical
// to the gateway's hashutil.ArgsHash for the same argument tree.
func argsHash(args map[string]interface{}) string {
	clean := make(map[string]interface{}, len(args))
	for k, v := range args {
		if k == approvalTokenField {
			continue
		}
		clean[k] = v
	}
	return hashBytes(canonicalize(clean))
}

// requestHash binds a tool name, upstream id, and args hash together,
// matching the gateway's hashutil.RequestHash.
func requestHash(toolName, upstreamID, argHash string) string {
	return hashBytes([]byte(toolName + ":" + upstreamID + ":" + argHash))
}

func hashBytes(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

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
		b, err := json.Marshal(val)
		if err != nil {
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
