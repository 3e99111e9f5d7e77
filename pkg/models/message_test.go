package models

import (
	"encoding/json"
	"testing"
)

func TestToolCall_ArgumentsPreserved(t *testing.T) {
	call := ToolCall{
		ID:        "call_0",
		Name:      "manage_memory",
		Arguments: json.RawMessage(`{"action":"save","type":"fact","key":"city","value":"Lisbon"}`),
	}

	data, err := json.Marshal(call)
	if err != nil {
		t.Fatalf("Marshal error: %v", err)
	}

	var decoded ToolCall
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}

	if decoded.Name != "manage_memory" {
		t.Errorf("Name = %q, want %q", decoded.Name, "manage_memory")
	}

	var args map[string]string
	if err := json.Unmarshal(decoded.Arguments, &args); err != nil {
		t.Fatalf("Unmarshal arguments error: %v", err)
	}
	if args["key"] != "city" || args["value"] != "Lisbon" {
		t.Errorf("arguments = %v, want key=city value=Lisbon", args)
	}
}

func TestToolResult_ErrorFlag(t *testing.T) {
	result := ToolResult{
		ToolCallID: "call_1",
		Name:       "schedule_task",
		Content:    "Error executing tool: schedule text is required",
		IsError:    true,
	}

	if !result.IsError {
		t.Error("IsError = false, want true")
	}
	if result.ToolCallID != "call_1" {
		t.Errorf("ToolCallID = %q, want %q", result.ToolCallID, "call_1")
	}
}
