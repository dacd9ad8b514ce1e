package cluster

import "encoding/json"

func decodePayload(raw json.RawMessage, out any) error {
	return json.Unmarshal(raw, out)
}
