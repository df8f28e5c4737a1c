package rpc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	protocolVersion = "2.0"

	// shutdownID is reserved for the shutdown notification, which is never answered.
	shutdownID     int64 = 0
	methodShutdown       = "shutdown"
)

var emptyParams = json.RawMessage("{}")

// requestMessage is a request line sent client->backend.
type requestMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      int64           `json:"id"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params,omitempty"`
}

// responseMessage is a response line sent backend->client.
// Exactly one of Result and Error is meaningful.
type responseMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *responseError  `json:"error"`
}

type responseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// idMatch is how a response id relates to the id being awaited.
type idMatch int

const (
	// idOther means the response belongs to some other call.
	idOther idMatch = iota
	// idExact means the response carries the awaited id.
	idExact
	// idLatest means the response has no id and answers whatever call is awaited.
	idLatest
)

func (m idMatch) String() string {
	switch m {
	case idExact:
		return "exact"
	case idLatest:
		return "latest"
	default:
		return "other"
	}
}

// matchID classifies a raw response id against the awaited id.
// For idOther the parsed id is returned as well.
func matchID(raw json.RawMessage, want int64) (idMatch, int64, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return idLatest, 0, nil
	}
	var id int64
	if err := json.Unmarshal(raw, &id); err != nil {
		return idOther, 0, fmt.Errorf("%w: invalid response id %s", ErrProtocol, raw)
	}
	if id == want {
		return idExact, id, nil
	}
	return idOther, id, nil
}

func decodeResponse(line []byte) (*responseMessage, error) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 || line[0] != '{' {
		return nil, fmt.Errorf("%w: not a JSON object: %q", ErrProtocol, truncate(string(line), 200))
	}
	var resp responseMessage
	if err := json.Unmarshal(line, &resp); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrProtocol, err)
	}
	return &resp, nil
}

func encodeParams(params any) (json.RawMessage, error) {
	if params == nil {
		return emptyParams, nil
	}
	if raw, ok := params.(json.RawMessage); ok {
		return raw, nil
	}
	return json.Marshal(params)
}

func isNull(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	return len(raw) == 0 || bytes.Equal(raw, []byte("null"))
}
