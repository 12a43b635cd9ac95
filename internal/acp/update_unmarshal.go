package acp

import "encoding/json"

// UnmarshalJSON decodes a session/update payload's tagged-union shape: the
// `sessionUpdate` discriminator selects which of the chunk/tool-call
// variants is populated, mirroring how the agent actually serializes it.
func (u *SessionUpdate) UnmarshalJSON(data []byte) error {
	var probe struct {
		SessionUpdate string `json:"sessionUpdate"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return err
	}
	u.SessionUpdate = probe.SessionUpdate
	u.Raw = append(json.RawMessage(nil), data...)

	switch probe.SessionUpdate {
	case "user_message_chunk":
		var v MessageChunk
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		u.UserMessageChunk = &v
	case "agent_message_chunk":
		var v MessageChunk
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		u.AgentMessageChunk = &v
	case "tool_call":
		var v ToolCall
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		u.ToolCall = &v
	case "tool_call_update":
		var v ToolCallUpdate
		if err := json.Unmarshal(data, &v); err != nil {
			return err
		}
		u.ToolCallUpdate = &v
	}
	return nil
}

// MarshalJSON re-serializes from the decoded Raw form, preserving whatever
// the agent originally sent for fields this type does not model.
func (u SessionUpdate) MarshalJSON() ([]byte, error) {
	if u.Raw != nil {
		return u.Raw, nil
	}
	return json.Marshal(struct {
		SessionUpdate string `json:"sessionUpdate"`
	}{u.SessionUpdate})
}
