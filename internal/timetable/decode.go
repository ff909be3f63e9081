package timetable

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New()

// envelope is the response wrapper shared by the timetable API endpoints
type envelope struct {
	IsSuccess   *bool           `json:"Issuccess"`
	IsException *bool           `json:"isException"`
	Exception   json.RawMessage `json:"exception"`
	Message     string          `json:"Message"`
	Data        json.RawMessage `json:"data"`
}

// hasException reports whether the exception field carries anything besides null/false
func (e envelope) hasException() bool {
	raw := bytes.TrimSpace(e.Exception)
	if len(raw) == 0 {
		return false
	}
	return !bytes.Equal(raw, []byte("null")) && !bytes.Equal(raw, []byte("false"))
}

func (e envelope) failureReason() string {
	if e.Message != "" {
		return e.Message
	}
	if e.hasException() {
		return string(bytes.TrimSpace(e.Exception))
	}
	return "request not successful"
}

// Decode classifies a raw GetTimetableByStation_v4 response.
// The response failed if it carries an exception, sets isException, or does not
// set Issuccess to true. A successful response with no entries is still a success.
func Decode(raw []byte) Result {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Fail(FailureMalformed, fmt.Sprintf("response is not JSON: %v", err))
	}

	if env.hasException() || (env.IsException != nil && *env.IsException) ||
		env.IsSuccess == nil || !*env.IsSuccess {
		return Fail(FailureService, env.failureReason())
	}

	entries, err := decodeList[RouteEntry](env.Data)
	if err != nil {
		return Fail(FailureMalformed, err.Error())
	}
	return Success(entries)
}

// DecodeRouteList parses a GetAllRouteList response into route id -> route info
func DecodeRouteList(raw []byte) (map[string]RouteInfo, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("route list is not JSON: %w", err)
	}

	routes, err := decodeList[RouteInfo](env.Data)
	if err != nil {
		return nil, fmt.Errorf("route list: %w", err)
	}

	out := make(map[string]RouteInfo, len(routes))
	for _, r := range routes {
		out[r.RouteID.String()] = r
	}
	return out, nil
}

// decodeList decodes a data array and validates every element
func decodeList[T any](raw json.RawMessage) ([]T, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var items []T
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("unexpected data shape: %w", err)
	}
	for i := range items {
		if err := validate.Struct(items[i]); err != nil {
			return nil, fmt.Errorf("data[%d]: %w", i, err)
		}
	}
	return items, nil
}
