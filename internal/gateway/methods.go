package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/bus"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/internal/cron"
	"github.com/Ethereal-Lemons/LimeBot-OS-sub000/pkg/protocol"
)

// Error codes answered by the control methods.
const (
	errBadFrame      = "bad_frame"
	errUnknownMethod = "unknown_method"
	errInvalidParams = "invalid_params"
	errNotFound      = "not_found"
	errUnavailable   = "unavailable"
	errTooLarge      = "message_too_large"
)

// dispatch parses one inbound frame and answers it on the same client.
func (s *Server) dispatch(ctx context.Context, c *Client, data []byte) {
	var frame protocol.Frame
	if err := json.Unmarshal(data, &frame); err != nil {
		c.sendFrame(protocol.NewErrorResponse("", errBadFrame, "malformed frame"))
		return
	}
	if frame.Type != protocol.TypeRequest {
		return
	}
	c.sendFrame(s.handle(ctx, &frame))
}

// handle answers a single request frame. Split from dispatch so method
// behavior is testable without a socket.
func (s *Server) handle(ctx context.Context, req *protocol.Frame) protocol.Frame {
	switch req.Method {
	case protocol.MethodStatus:
		return s.handleStatus(req)
	case protocol.MethodRestart:
		return s.handleLifecycle(req, s.deps.Restart, "restarting")
	case protocol.MethodShutdown:
		return s.handleLifecycle(req, s.deps.Shutdown, "shutting_down")
	case protocol.MethodCacheClear:
		return s.handleCacheClear(req)
	case protocol.MethodJobsList:
		return s.handleJobsList(req)
	case protocol.MethodJobsAdd:
		return s.handleJobsAdd(req)
	case protocol.MethodJobsRemove:
		return s.handleJobsRemove(req)
	case protocol.MethodSessionsList:
		return s.handleSessionsList(req)
	case protocol.MethodSessionsDelete:
		return s.handleSessionsDelete(req)
	case protocol.MethodSkillsList:
		return s.handleSkillsList(req)
	case protocol.MethodSkillsEnable:
		return s.handleSkillsToggle(req, true)
	case protocol.MethodSkillsDisable:
		return s.handleSkillsToggle(req, false)
	case protocol.MethodConfirm:
		return s.handleConfirm(req)
	case protocol.MethodCancel:
		return s.handleCancel(req)
	case protocol.MethodChatSend:
		return s.handleChatSend(ctx, req)
	default:
		return protocol.NewErrorResponse(req.ID, errUnknownMethod, fmt.Sprintf("unknown method %q", req.Method))
	}
}

func (s *Server) respond(id string, payload interface{}) protocol.Frame {
	frame, err := protocol.NewResponse(id, payload)
	if err != nil {
		slog.Error("marshal response", "error", err)
		return protocol.NewErrorResponse(id, "internal", "response marshal failed")
	}
	return frame
}

func (s *Server) handleStatus(req *protocol.Frame) protocol.Frame {
	payload := protocol.StatusPayload{
		Version:   s.deps.Version,
		UptimeSec: int64(time.Since(s.deps.StartedAt).Seconds()),
		Model:     s.deps.Model,
	}
	if s.deps.ConfigHash != nil {
		payload.ConfigHash = s.deps.ConfigHash()
	}
	if s.deps.Sessions != nil {
		payload.Sessions = len(s.deps.Sessions.List())
	}
	if s.deps.Jobs != nil {
		payload.Jobs = len(s.deps.Jobs.List())
	}
	if s.deps.Cache != nil {
		payload.CacheEntries = s.deps.Cache.Len()
	}
	if s.deps.Channels != nil {
		for _, ch := range s.deps.Channels.Statuses() {
			payload.Channels = append(payload.Channels, protocol.ChannelStatus{
				Name:    ch.Name,
				Running: ch.Running,
			})
		}
	}
	if s.deps.Subagents != nil {
		payload.Subagents = int64(s.deps.Subagents())
	}
	return s.respond(req.ID, payload)
}

// handleLifecycle acknowledges first, then triggers the callback; the
// response would never reach a client the callback tears down.
func (s *Server) handleLifecycle(req *protocol.Frame, fn func(), state string) protocol.Frame {
	if fn == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "lifecycle control not wired")
	}
	go func() {
		time.Sleep(100 * time.Millisecond)
		fn()
	}()
	return s.respond(req.ID, map[string]string{"state": state})
}

func (s *Server) handleCacheClear(req *protocol.Frame) protocol.Frame {
	if s.deps.Cache == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "cache not wired")
	}
	dropped := s.deps.Cache.Len()
	s.deps.Cache.Clear()
	return s.respond(req.ID, protocol.CacheClearPayload{Dropped: dropped})
}

func (s *Server) handleJobsList(req *protocol.Frame) protocol.Frame {
	if s.deps.Jobs == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "scheduler not wired")
	}
	jobs := s.deps.Jobs.List()
	payload := protocol.JobsListPayload{Jobs: make([]protocol.JobInfo, 0, len(jobs))}
	for _, j := range jobs {
		payload.Jobs = append(payload.Jobs, protocol.JobInfo{
			ID:          j.ID,
			Payload:     j.Payload,
			TriggerAt:   j.TriggerAt,
			CronExpr:    j.CronExpr,
			TZOffsetMin: j.TZOffsetMin,
			Channel:     j.Context.Channel,
			ChatID:      j.Context.ChatID,
		})
	}
	return s.respond(req.ID, payload)
}

func (s *Server) handleJobsAdd(req *protocol.Frame) protocol.Frame {
	if s.deps.Jobs == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "scheduler not wired")
	}
	var params protocol.JobsAddParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if strings.TrimSpace(params.Payload) == "" {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "payload is required")
	}

	job := cron.Job{
		TriggerAt:   params.TriggerAt,
		CronExpr:    params.CronExpr,
		TZOffsetMin: params.TZOffsetMin,
		Payload:     params.Payload,
		Context: cron.JobContext{
			Channel:  params.Channel,
			ChatID:   params.ChatID,
			SenderID: params.SenderID,
		},
	}
	if job.Context.Channel == "" {
		job.Context.Channel = bus.WebChannelName
	}
	if job.Context.ChatID == "" {
		job.Context.ChatID = job.Context.Channel
	}

	id, err := s.deps.Jobs.Add(job)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	return s.respond(req.ID, protocol.JobsAddPayload{ID: id})
}

func (s *Server) handleJobsRemove(req *protocol.Frame) protocol.Frame {
	if s.deps.Jobs == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "scheduler not wired")
	}
	var params protocol.JobsRemoveParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	removed, err := s.deps.Jobs.Remove(params.ID)
	if err != nil {
		return protocol.NewErrorResponse(req.ID, "internal", err.Error())
	}
	if !removed {
		return protocol.NewErrorResponse(req.ID, errNotFound, fmt.Sprintf("no job %q", params.ID))
	}
	return s.respond(req.ID, protocol.JobsRemovePayload{Removed: true})
}

func (s *Server) handleSessionsList(req *protocol.Frame) protocol.Frame {
	if s.deps.Sessions == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "sessions not wired")
	}
	list := s.deps.Sessions.List()
	payload := protocol.SessionsListPayload{Sessions: make([]protocol.SessionInfo, 0, len(list))}
	for _, sess := range list {
		payload.Sessions = append(payload.Sessions, protocol.SessionInfo{
			Key:         sess.Key,
			Origin:      sess.Origin,
			Model:       sess.Model,
			Created:     sess.Created,
			LastActive:  sess.LastActive,
			TotalTokens: sess.TotalTokens,
		})
	}
	return s.respond(req.ID, payload)
}

func (s *Server) handleSessionsDelete(req *protocol.Frame) protocol.Frame {
	if s.deps.Sessions == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "sessions not wired")
	}
	var params protocol.SessionsDeleteParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if len(params.Keys) == 0 {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "keys are required")
	}

	existing := make(map[string]bool)
	for _, sess := range s.deps.Sessions.List() {
		existing[sess.Key] = true
	}
	deleted := 0
	for _, key := range params.Keys {
		if existing[key] {
			deleted++
		}
	}
	if err := s.deps.Sessions.DeleteMany(params.Keys); err != nil {
		return protocol.NewErrorResponse(req.ID, "internal", err.Error())
	}
	return s.respond(req.ID, protocol.SessionsDeletePayload{Deleted: deleted})
}

func (s *Server) handleSkillsList(req *protocol.Frame) protocol.Frame {
	if s.deps.Skills == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "skills not wired")
	}
	list := s.deps.Skills.List()
	payload := protocol.SkillsListPayload{Skills: make([]protocol.SkillInfo, 0, len(list))}
	for _, sk := range list {
		payload.Skills = append(payload.Skills, protocol.SkillInfo{
			Name:          sk.Name,
			Description:   sk.Description,
			Command:       sk.Command,
			Enabled:       sk.Enabled,
			MissingBinary: sk.MissingBinary,
		})
	}
	return s.respond(req.ID, payload)
}

func (s *Server) handleSkillsToggle(req *protocol.Frame, enable bool) protocol.Frame {
	if s.deps.Skills == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "skills not wired")
	}
	var params protocol.SkillsToggleParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if params.Name == "" {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "name is required")
	}
	var err error
	if enable {
		err = s.deps.Skills.Enable(params.Name)
	} else {
		err = s.deps.Skills.Disable(params.Name)
	}
	if err != nil {
		return protocol.NewErrorResponse(req.ID, errNotFound, err.Error())
	}
	return s.respond(req.ID, map[string]interface{}{"name": params.Name, "enabled": enable})
}

func (s *Server) handleConfirm(req *protocol.Frame) protocol.Frame {
	if s.deps.Confirm == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "confirmations not wired")
	}
	var params protocol.ConfirmParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if params.ID == "" {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "id is required")
	}
	resolved := s.deps.Confirm.Resolve(params.ID, params.Approve)
	return s.respond(req.ID, protocol.ConfirmPayload{Resolved: resolved})
}

func (s *Server) handleCancel(req *protocol.Frame) protocol.Frame {
	if s.deps.Cancel == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "cancellation not wired")
	}
	var params protocol.CancelParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if params.SessionKey == "" {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "session_key is required")
	}
	cancelled := s.deps.Cancel(params.SessionKey)
	return s.respond(req.ID, protocol.CancelPayload{Cancelled: cancelled})
}

func (s *Server) handleChatSend(ctx context.Context, req *protocol.Frame) protocol.Frame {
	if s.deps.Router == nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, "message routing not wired")
	}
	var params protocol.ChatSendParams
	if err := req.DecodeParams(&params); err != nil {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, err.Error())
	}
	if strings.TrimSpace(params.Content) == "" {
		return protocol.NewErrorResponse(req.ID, errInvalidParams, "content is required")
	}
	if max := s.cfg.MaxMessageChars; max > 0 && len([]rune(params.Content)) > max {
		return protocol.NewErrorResponse(req.ID, errTooLarge, fmt.Sprintf("content exceeds %d characters", max))
	}

	senderID := params.SenderID
	if senderID == "" {
		senderID = "operator"
	}
	chatID := params.ChatID
	if chatID == "" {
		chatID = senderID
	}

	msg := bus.InboundMessage{
		Channel:  bus.WebChannelName,
		SenderID: senderID,
		ChatID:   chatID,
		Content:  params.Content,
		Media:    params.Media,
	}
	if err := s.deps.Router.PublishInbound(ctx, msg); err != nil {
		return protocol.NewErrorResponse(req.ID, errUnavailable, err.Error())
	}
	return s.respond(req.ID, protocol.ChatSendPayload{SessionKey: msg.SessionKey()})
}
