package oidc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// mergeAndMarshalClaims merges the registered claims struct and the custom
// claims map into a single JSON object. Registered fields win on conflict.
func mergeAndMarshalClaims(registered any, extraClaims map[string]any) ([]byte, error) {
	buf := new(bytes.Buffer)
	if err := json.NewEncoder(buf).Encode(registered); err != nil {
		return nil, fmt.Errorf("oidc registered claims: %w", err)
	}
	if len(extraClaims) > 0 {
		merged := make(map[string]any, len(extraClaims))
		for k, v := range extraClaims {
			merged[k] = v
		}
		// the decoder's full read resets the buffer, retaining capacity
		if err := json.NewDecoder(buf).Decode(&merged); err != nil {
			return nil, fmt.Errorf("oidc registered claims: %w", err)
		}
		if err := json.NewEncoder(buf).Encode(merged); err != nil {
			return nil, fmt.Errorf("oidc custom claims: %w", err)
		}
	}
	return buf.Bytes(), nil
}

// unmarshalJSONMulti unmarshals the same JSON document into multiple
// destinations, each of which must be a pointer. It returns on the first
// error, destinations may be partly filled by then.
func unmarshalJSONMulti(data []byte, destinations ...any) error {
	for _, dst := range destinations {
		if err := json.Unmarshal(data, dst); err != nil {
			return fmt.Errorf("oidc: %w into %T", err, dst)
		}
	}
	return nil
}
