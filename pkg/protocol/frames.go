// Package protocol defines the wire frames the gateway exchanges with its
// WebSocket clients. Every frame is a single JSON object; the Type field
// discriminates requests, responses, and server-pushed events.
package protocol

import (
	"encoding/json"
	"fmt"
	"time"
)

// Version is bumped when a frame or method changes incompatibly.
const Version = 1

// Frame types.
const (
	TypeRequest  = "req"
	TypeResponse = "res"
	TypeEvent    = "event"
)

// Control methods.
const (
	MethodStatus         = "status"
	MethodRestart        = "restart"
	MethodShutdown       = "shutdown"
	MethodCacheClear     = "cache_clear"
	MethodJobsList       = "jobs_list"
	MethodJobsAdd        = "jobs_add"
	MethodJobsRemove     = "jobs_remove"
	MethodSessionsList   = "sessions_list"
	MethodSessionsDelete = "sessions_delete"
	MethodSkillsList     = "skills_list"
	MethodSkillsEnable   = "skills_enable"
	MethodSkillsDisable  = "skills_disable"
	MethodConfirm        = "confirm"
	MethodCancel         = "cancel"
	MethodChatSend       = "chat_send"
)

// EventChat carries outbound web-channel traffic (replies, chunks, typing,
// tool activity). Other event names come from the runtime bus unchanged.
const EventChat = "chat"

// Frame is the wire envelope. Requests carry Method+Params, responses carry
// OK+Payload (or Error), events carry Event+Seq+Payload.
type Frame struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	OK      *bool           `json:"ok,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   *FrameError     `json:"error,omitempty"`
	Event   string          `json:"event,omitempty"`
	Seq     int64           `json:"seq,omitempty"`
}

// FrameError describes a failed request.
type FrameError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewRequest builds a request frame, marshaling params when non-nil.
func NewRequest(id, method string, params interface{}) (Frame, error) {
	f := Frame{Type: TypeRequest, ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal params: %w", err)
		}
		f.Params = raw
	}
	return f, nil
}

// NewResponse builds a success response for the request id.
func NewResponse(id string, payload interface{}) (Frame, error) {
	ok := true
	f := Frame{Type: TypeResponse, ID: id, OK: &ok}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal payload: %w", err)
		}
		f.Payload = raw
	}
	return f, nil
}

// NewErrorResponse builds a failure response for the request id.
func NewErrorResponse(id, code, message string) Frame {
	ok := false
	return Frame{
		Type:  TypeResponse,
		ID:    id,
		OK:    &ok,
		Error: &FrameError{Code: code, Message: message},
	}
}

// NewEvent builds a server-pushed event frame.
func NewEvent(seq int64, event string, payload interface{}) (Frame, error) {
	f := Frame{Type: TypeEvent, Event: event, Seq: seq}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return Frame{}, fmt.Errorf("marshal event payload: %w", err)
		}
		f.Payload = raw
	}
	return f, nil
}

// DecodeParams unmarshals request params into v.
func (f *Frame) DecodeParams(v interface{}) error {
	if len(f.Params) == 0 {
		return nil
	}
	return json.Unmarshal(f.Params, v)
}

// DecodePayload unmarshals a response or event payload into v.
func (f *Frame) DecodePayload(v interface{}) error {
	if len(f.Payload) == 0 {
		return nil
	}
	return json.Unmarshal(f.Payload, v)
}

// Succeeded reports whether a response frame carries a success flag.
func (f *Frame) Succeeded() bool {
	return f.Type == TypeResponse && f.OK != nil && *f.OK
}

// StatusPayload answers the status method.
type StatusPayload struct {
	Version      string          `json:"version"`
	UptimeSec    int64           `json:"uptime_sec"`
	Model        string          `json:"model"`
	ConfigHash   string          `json:"config_hash"`
	Sessions     int             `json:"sessions"`
	Jobs         int             `json:"jobs"`
	CacheEntries int             `json:"cache_entries"`
	Channels     []ChannelStatus `json:"channels,omitempty"`
	Subagents    int64           `json:"subagents,omitempty"`
}

// ChannelStatus is one transport's run state.
type ChannelStatus struct {
	Name    string `json:"name"`
	Running bool   `json:"running"`
}

// ChatSendParams injects a message into the runtime as the web channel.
type ChatSendParams struct {
	Content  string   `json:"content"`
	SenderID string   `json:"sender_id,omitempty"`
	ChatID   string   `json:"chat_id,omitempty"`
	Media    []string `json:"media,omitempty"`
}

// ChatSendPayload acknowledges an accepted chat message.
type ChatSendPayload struct {
	SessionKey string `json:"session_key"`
}

// JobInfo is the wire form of one scheduled job.
type JobInfo struct {
	ID          string  `json:"id"`
	Payload     string  `json:"payload"`
	TriggerAt   float64 `json:"trigger_ts,omitempty"`
	CronExpr    string  `json:"cron_expr,omitempty"`
	TZOffsetMin int     `json:"tz_offset_min,omitempty"`
	Channel     string  `json:"channel,omitempty"`
	ChatID      string  `json:"chat_id,omitempty"`
}

// JobsListPayload answers jobs_list.
type JobsListPayload struct {
	Jobs []JobInfo `json:"jobs"`
}

// JobsAddParams creates a one-shot (trigger_ts) or recurring (cron_expr) job.
type JobsAddParams struct {
	Payload     string  `json:"payload"`
	TriggerAt   float64 `json:"trigger_ts,omitempty"`
	CronExpr    string  `json:"cron_expr,omitempty"`
	TZOffsetMin int     `json:"tz_offset_min,omitempty"`
	Channel     string  `json:"channel,omitempty"`
	ChatID      string  `json:"chat_id,omitempty"`
	SenderID    string  `json:"sender_id,omitempty"`
}

// JobsAddPayload returns the new job id.
type JobsAddPayload struct {
	ID string `json:"id"`
}

// JobsRemoveParams names the job to delete.
type JobsRemoveParams struct {
	ID string `json:"id"`
}

// JobsRemovePayload acknowledges a deleted job.
type JobsRemovePayload struct {
	Removed bool `json:"removed"`
}

// SessionInfo is the wire form of one session index entry.
type SessionInfo struct {
	Key         string    `json:"key"`
	Origin      string    `json:"origin,omitempty"`
	Model       string    `json:"model,omitempty"`
	Created     time.Time `json:"created"`
	LastActive  time.Time `json:"last_active"`
	TotalTokens int64     `json:"total_tokens,omitempty"`
}

// SessionsListPayload answers sessions_list.
type SessionsListPayload struct {
	Sessions []SessionInfo `json:"sessions"`
}

// SessionsDeleteParams names the sessions to delete.
type SessionsDeleteParams struct {
	Keys []string `json:"keys"`
}

// SessionsDeletePayload reports how many sessions were removed.
type SessionsDeletePayload struct {
	Deleted int `json:"deleted"`
}

// SkillInfo is the wire form of one loaded skill.
type SkillInfo struct {
	Name          string `json:"name"`
	Description   string `json:"description,omitempty"`
	Command       string `json:"command,omitempty"`
	Enabled       bool   `json:"enabled"`
	MissingBinary string `json:"missing_binary,omitempty"`
}

// SkillsListPayload answers skills_list.
type SkillsListPayload struct {
	Skills []SkillInfo `json:"skills"`
}

// SkillsToggleParams names the skill to enable or disable.
type SkillsToggleParams struct {
	Name string `json:"name"`
}

// ConfirmParams resolves a pending tool confirmation by id.
type ConfirmParams struct {
	ID      string `json:"id"`
	Approve bool   `json:"approve"`
}

// ConfirmPayload reports whether the confirmation was still pending.
type ConfirmPayload struct {
	Resolved bool `json:"resolved"`
}

// CancelParams cancels the in-flight turn for a session.
type CancelParams struct {
	SessionKey string `json:"session_key"`
}

// CancelPayload reports whether a task was running.
type CancelPayload struct {
	Cancelled bool `json:"cancelled"`
}

// CacheClearPayload reports how many cached tool results were dropped.
type CacheClearPayload struct {
	Dropped int `json:"dropped"`
}
