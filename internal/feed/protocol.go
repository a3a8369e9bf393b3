package feed

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// Channel protocol events
const (
	eventJoin      = "phx_join"
	eventLeave     = "phx_leave"
	eventReply     = "phx_reply"
	eventError     = "phx_error"
	eventClose     = "phx_close"
	eventHeartbeat = "heartbeat"
	eventChanges   = "postgres_changes"

	heartbeatTopic = "phoenix"
	topicPrefix    = "realtime:"
)

// ChangeType is the kind of row change carried by an event
type ChangeType string

const (
	Insert ChangeType = "INSERT"
	Update ChangeType = "UPDATE"
	Delete ChangeType = "DELETE"
)

// Change is one row change delivered on a topic
type Change struct {
	Topic string
	Table string
	Type  ChangeType
	New   json.RawMessage // new row; empty for DELETE
	Old   json.RawMessage // previous row; often only the primary key
}

// Filter scopes a subscription to rows where Column equals Value
type Filter struct {
	Table  string
	Column string
	Value  string
}

// String renders the filter in the backend's column=eq.value form
func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=eq." + f.Value
}

// Topic builds the "<table>:<scope>" topic name
func Topic(table, scope string) string {
	return table + ":" + scope
}

type frame struct {
	Topic   string      `json:"topic"`
	Event   string      `json:"event"`
	Payload interface{} `json:"payload"`
	Ref     string      `json:"ref"`
}

func joinPayload(f Filter, accessToken string) map[string]interface{} {
	change := map[string]interface{}{
		"event":  "*",
		"schema": "public",
		"table":  f.Table,
	}
	if filter := f.String(); filter != "" {
		change["filter"] = filter
	}
	payload := map[string]interface{}{
		"config": map[string]interface{}{
			"broadcast":        map[string]interface{}{"self": false},
			"presence":         map[string]interface{}{"key": ""},
			"postgres_changes": []interface{}{change},
		},
	}
	if accessToken != "" {
		payload["access_token"] = accessToken
	}
	return payload
}

func wireTopic(topic string) string {
	return topicPrefix + topic
}

func localTopic(wire string) string {
	return strings.TrimPrefix(wire, topicPrefix)
}

// parseChange extracts a row change from a postgres_changes payload. Both the
// wrapped {"data": {...}} form and a bare payload are accepted, with either
// type/record/old_record or eventType/new/old keys.
func parseChange(topic string, payload gjson.Result) (Change, error) {
	data := payload.Get("data")
	if !data.Exists() {
		data = payload
	}

	typ := data.Get("type").String()
	if typ == "" {
		typ = data.Get("eventType").String()
	}
	c := Change{
		Topic: topic,
		Table: data.Get("table").String(),
		Type:  ChangeType(strings.ToUpper(typ)),
		New:   rawObject(data, "record", "new"),
		Old:   rawObject(data, "old_record", "old"),
	}

	switch c.Type {
	case Insert, Update:
		if c.New == nil {
			return c, fmt.Errorf("%s event without new record", c.Type)
		}
	case Delete:
		if c.Old == nil {
			return c, fmt.Errorf("DELETE event without old record")
		}
	default:
		return c, fmt.Errorf("unknown change type %q", typ)
	}
	if c.Table == "" {
		return c, fmt.Errorf("change without table")
	}
	return c, nil
}

func rawObject(data gjson.Result, keys ...string) json.RawMessage {
	for _, k := range keys {
		if v := data.Get(k); v.IsObject() {
			return json.RawMessage(v.Raw)
		}
	}
	return nil
}
