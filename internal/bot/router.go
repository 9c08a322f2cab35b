// Package bot is the operator command surface: it parses commands and
// inline-button callbacks from the transport, calls into the registry,
// store and scheduler, and renders replies.
package bot

import (
	"context"
	"errors"
	"strings"
	"sync"

	"schedbot/internal/delivery"
	"schedbot/internal/history"
	"schedbot/internal/scheduler"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// callbackScope prefixes all inline callback data emitted by this bot.
const callbackScope = "sched"

type Router struct {
	log     logx.Logger
	adapter kit.Adapter
	state   *delivery.State
	sched   *scheduler.Service
	hist    history.Store // may be nil

	ownerMu sync.RWMutex
	owners  []int64
}

func NewRouter(adapter kit.Adapter, state *delivery.State, sched *scheduler.Service, hist history.Store, owners []int64, log logx.Logger) *Router {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Router{
		log:     log,
		adapter: adapter,
		state:   state,
		sched:   sched,
		hist:    hist,
		owners:  append([]int64(nil), owners...),
	}
}

// SetOwners replaces the operator allowlist (config hot reload).
func (r *Router) SetOwners(owners []int64) {
	r.ownerMu.Lock()
	r.owners = append([]int64(nil), owners...)
	r.ownerMu.Unlock()
}

func (r *Router) authorized(userID int64) bool {
	r.ownerMu.RLock()
	defer r.ownerMu.RUnlock()
	for _, id := range r.owners {
		if id == userID {
			return true
		}
	}
	return false
}

// DispatchLoop consumes updates until ctx is done.
func (r *Router) DispatchLoop(ctx context.Context, updates <-chan kit.Update) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			r.handle(ctx, up)
		}
	}
}

func (r *Router) handle(ctx context.Context, up kit.Update) {
	switch up.Kind {
	case kit.UpdateMessage:
		if up.Message != nil {
			r.handleMessage(ctx, up.Message)
		}
	case kit.UpdateCallback:
		if up.Callback != nil {
			r.handleCallback(ctx, up.Callback)
		}
	}
}

func (r *Router) handleMessage(ctx context.Context, m *kit.Message) {
	cmd, args := parseCommand(m.Text)
	if cmd == "" {
		return
	}

	if !r.authorized(m.FromID) {
		r.log.Warn("unauthorized command",
			logx.Int64("from", m.FromID), logx.String("cmd", cmd))
		r.reply(ctx, m.ChatID, "❌ Unauthorized access. This bot is private.", nil)
		return
	}

	switch cmd {
	case "start":
		r.cmdStart(ctx, m)
	case "help":
		r.cmdHelp(ctx, m)
	case "addchannel":
		r.cmdAddChannel(ctx, m, args)
	case "listchannels":
		r.cmdListChannels(ctx, m)
	case "deletechannel":
		r.cmdDeleteChannel(ctx, m, args)
	case "schedule":
		r.cmdSchedule(ctx, m, args)
	case "listschedule":
		r.cmdListSchedule(ctx, m)
	case "history":
		r.cmdHistory(ctx, m, args)
	default:
		// Unknown command: stay silent like most private bots do.
	}
}

// parseCommand splits "/schedule ops 30 hello there" into
// ("schedule", ["ops","30","hello","there"]). A "@botname" suffix on the
// command is stripped so group mentions route too.
func parseCommand(text string) (string, []string) {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return "", nil
	}
	fields := strings.Fields(text)
	cmd := strings.TrimPrefix(fields[0], "/")
	if at := strings.IndexByte(cmd, '@'); at >= 0 {
		cmd = cmd[:at]
	}
	return strings.ToLower(cmd), fields[1:]
}

func (r *Router) reply(ctx context.Context, chatID int64, text string, opt *kit.SendOptions) {
	if _, err := r.adapter.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, opt); err != nil {
		r.log.Warn("reply failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// errText maps domain errors to operator-facing messages.
func errText(err error) string {
	switch {
	case errors.Is(err, delivery.ErrDuplicateName):
		return "❌ That channel name already exists. Choose a different name."
	case errors.Is(err, delivery.ErrInvalidName):
		return "❌ Channel name is empty. Usage: /addchannel <channel_id> <channel_name>"
	case errors.Is(err, delivery.ErrInvalidDestination):
		return "❌ Invalid channel ID. Channel IDs start with -100 — use the numeric ID, not the username."
	case errors.Is(err, delivery.ErrChannelNotFound):
		return "❌ Channel not found. Use /listchannels to see available channels."
	case errors.Is(err, delivery.ErrChannelInUse):
		return "⚠️ That channel still has scheduled messages. Delete them first via /listschedule."
	case errors.Is(err, delivery.ErrInvalidDelay):
		return "❌ Please provide a positive time value in minutes."
	case errors.Is(err, delivery.ErrTextTooLong):
		return "❌ Message is too long. Maximum 4000 characters."
	case errors.Is(err, delivery.ErrEmptyText):
		return "❌ Message text is empty."
	case errors.Is(err, delivery.ErrDeliveryNotFound):
		return "❌ That scheduled message no longer exists."
	default:
		return "❌ " + err.Error()
	}
}
