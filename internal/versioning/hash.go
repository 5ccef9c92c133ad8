package versioning

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// HashLength is the number of hex characters kept from the SHA-256 digest (48 bits).
const HashLength = 12

// HashContent fingerprints content for change detection. Strings are digested
// as-is; everything else is digested in its canonical JSON form.
func HashContent(content any) (string, error) {
	_, _, hash, err := fingerprint(content)
	return hash, err
}

// fingerprint returns the canonical JSON encoding of content, the size of the
// serialized form and its hash. String content is measured and digested raw.
func fingerprint(content any) ([]byte, int, string, error) {
	encoded, err := canonicalJSON(content)
	if err != nil {
		return nil, 0, "", err
	}
	payload := encoded
	if text, ok := content.(string); ok {
		payload = []byte(text)
	}
	sum := sha256.Sum256(payload)
	return encoded, len(payload), hex.EncodeToString(sum[:])[:HashLength], nil
}

// canonicalJSON re-encodes content through a generic decode so that maps and
// structs carrying the same data produce identical bytes with sorted keys.
// HTML characters are left unescaped.
func canonicalJSON(content any) ([]byte, error) {
	raw, err := marshalPlain(content)
	if err != nil {
		return nil, fmt.Errorf("marshal content: %w", err)
	}
	decoder := json.NewDecoder(bytes.NewReader(raw))
	decoder.UseNumber()
	var generic any
	if err := decoder.Decode(&generic); err != nil {
		return nil, fmt.Errorf("normalize content: %w", err)
	}
	normalized, err := marshalPlain(generic)
	if err != nil {
		return nil, fmt.Errorf("marshal normalized content: %w", err)
	}
	return normalized, nil
}

func marshalPlain(value any) ([]byte, error) {
	var buf bytes.Buffer
	encoder := json.NewEncoder(&buf)
	encoder.SetEscapeHTML(false)
	if err := encoder.Encode(value); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
