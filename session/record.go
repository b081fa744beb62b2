package session

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Record is the value stored for a session token. It serialises as a flat
// JSON object: the Extra keys with data and token on top.
type Record struct {
	Token string
	Data  json.RawMessage
	Extra map[string]any
}

// DecodeData unmarshals the session payload into v.
func (r *Record) DecodeData(v any) error {
	if len(r.Data) == 0 {
		return json.Unmarshal([]byte("null"), v)
	}
	return json.Unmarshal(r.Data, v)
}

// MarshalJSON implements json.Marshaler.
func (r Record) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(r.Extra)+2)
	for k, v := range r.Extra {
		out[k] = v
	}
	if len(r.Data) == 0 {
		out["data"] = nil
	} else {
		out["data"] = r.Data
	}
	out["token"] = r.Token
	return json.Marshal(out)
}

// UnmarshalJSON implements json.Unmarshaler.
func (r *Record) UnmarshalJSON(b []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw == nil {
		return fmt.Errorf("record is not an object")
	}

	rec := Record{Extra: make(map[string]any, len(raw))}
	if tok, ok := raw["token"]; ok {
		if err := json.Unmarshal(tok, &rec.Token); err != nil {
			return fmt.Errorf("token: %w", err)
		}
	}
	if data, ok := raw["data"]; ok && !bytes.Equal(data, []byte("null")) {
		rec.Data = append(json.RawMessage(nil), data...)
	}
	delete(raw, "token")
	delete(raw, "data")

	for k, v := range raw {
		dec := json.NewDecoder(bytes.NewReader(v))
		dec.UseNumber()
		var val any
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("%s: %w", k, err)
		}
		rec.Extra[k] = val
	}
	*r = rec
	return nil
}

func encodePayload(payload any) (json.RawMessage, error) {
	switch p := payload.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		if len(p) == 0 {
			return nil, nil
		}
		if !json.Valid(p) {
			return nil, fmt.Errorf("session payload is not valid json")
		}
		return append(json.RawMessage(nil), p...), nil
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode session payload: %w", err)
	}
	if bytes.Equal(b, []byte("null")) {
		return nil, nil
	}
	return b, nil
}

// mergeData shallow-merges next over prev when both are JSON objects and
// otherwise returns next.
func mergeData(prev, next json.RawMessage) (json.RawMessage, error) {
	var prevObj, nextObj map[string]json.RawMessage
	if json.Unmarshal(prev, &prevObj) != nil || prevObj == nil {
		return next, nil
	}
	if json.Unmarshal(next, &nextObj) != nil || nextObj == nil {
		return next, nil
	}
	for k, v := range nextObj {
		prevObj[k] = v
	}
	return json.Marshal(prevObj)
}
