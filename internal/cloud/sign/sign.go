package sign

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// nonceLength is the number of digits in a request nonce.
const nonceLength = 6

// Flatten converts a nested parameter mapping into a single-level mapping
// with dotted/indexed keys, as required by the vendor's signing contract.
//
// Nesting rules:
//   - map values become "parent.child" keys, recursively
//   - slice values become "parent[0]", "parent[1]", ... keys
//   - every leaf value is rendered to its string form
//
// Value rendering is part of the wire contract: booleans are literal
// "true"/"false" (lowercase, never numeric), numbers use their shortest
// decimal form ("42", not "42.000000"), nil renders as an empty string.
//
// Parameters:
//   - params: Possibly nested parameter mapping (JSON-shaped values)
//
// Returns:
//   - map[string]string: Flat key to rendered value mapping
func Flatten(params map[string]any) map[string]string {
	flat := make(map[string]string, len(params))
	for key, value := range params {
		flattenInto(flat, key, value)
	}
	return flat
}

// flattenInto recursively flattens value under the given key prefix.
func flattenInto(flat map[string]string, key string, value any) {
	switch v := value.(type) {
	case map[string]any:
		for childKey, childValue := range v {
			flattenInto(flat, key+"."+childKey, childValue)
		}
	case []any:
		for i, item := range v {
			flattenInto(flat, fmt.Sprintf("%s[%d]", key, i), item)
		}
	default:
		flat[key] = renderValue(value)
	}
}

// renderValue converts a leaf value to its signed string form.
func renderValue(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		return strconv.FormatBool(v)
	case float64:
		// JSON numbers decode as float64; shortest form keeps 30 as "30"
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}

// Sign computes the authentication signature for one request.
//
// The algorithm is fixed by the vendor and must be bit-exact:
//  1. Flatten the relevant parameter set (query params for GET, body
//     params for mutating requests)
//  2. Merge in accessKey, nonce and timestamp
//  3. Sort all pairs by ascending byte order of the key
//  4. Concatenate as "k1=v1&k2=v2..." and HMAC-SHA256 with the secret key
//  5. Render as lowercase hex
//
// The nonce and timestamp must be fresh per request; the remote service
// rejects reused values with an authentication error.
//
// Parameters:
//   - secretKey: Long-lived secret key
//   - params: Request parameters (nested values allowed)
//   - accessKey: Long-lived access key
//   - nonce: Fresh 6-digit nonce (see Nonce)
//   - timestamp: Fresh millisecond timestamp (see Timestamp)
//
// Returns:
//   - string: Lowercase hex signature
func Sign(secretKey string, params map[string]any, accessKey, nonce, timestamp string) string {
	flat := Flatten(params)
	flat["accessKey"] = accessKey
	flat["nonce"] = nonce
	flat["timestamp"] = timestamp

	keys := make([]string, 0, len(flat))
	for key := range flat {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, key := range keys {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(key)
		b.WriteByte('=')
		b.WriteString(flat[key])
	}

	mac := hmac.New(sha256.New, []byte(secretKey))
	mac.Write([]byte(b.String()))
	return hex.EncodeToString(mac.Sum(nil))
}

// Nonce generates a fresh 6-digit numeric nonce string.
// Leading zeros are allowed; the vendor only requires digits.
func Nonce() string {
	buf := make([]byte, nonceLength)
	if _, err := rand.Read(buf); err != nil {
		// crypto/rand is the kernel CSPRNG; a read failure here means the
		// process environment is broken beyond any sensible recovery.
		panic(fmt.Sprintf("sign: reading random bytes: %v", err))
	}

	digits := make([]byte, nonceLength)
	for i, b := range buf {
		digits[i] = '0' + b%10
	}
	return string(digits)
}

// Timestamp returns the current time as a millisecond epoch string.
func Timestamp() string {
	return strconv.FormatInt(time.Now().UnixMilli(), 10)
}
