package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"schedbot/internal/delivery"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

const helpText = `🤖 Your Personal Schedule Bot

Commands:
/addchannel <channel_id> <name> — add a channel
/listchannels — list all channels
/deletechannel <name> — delete a channel
/schedule <channel> <minutes> <message> — schedule a message
/listschedule — list scheduled messages
/history [n] — recent delivery outcomes
/help — show this help

Examples:
/addchannel -100123456789 my_channel
/schedule my_channel 30 Hello! Check https://example.com

Note: make sure the bot is admin in your channels!`

func (r *Router) cmdStart(ctx context.Context, m *kit.Message) {
	r.reply(ctx, m.ChatID, "🤖 Welcome to Your Personal Schedule Bot!\n\n"+helpText, nil)
}

func (r *Router) cmdHelp(ctx context.Context, m *kit.Message) {
	r.reply(ctx, m.ChatID, helpText, nil)
}

func (r *Router) cmdAddChannel(ctx context.Context, m *kit.Message, args []string) {
	if len(args) < 2 {
		r.reply(ctx, m.ChatID, "❌ Usage: /addchannel <channel_id> <channel_name>\nExample: /addchannel -100123456789 my_channel", nil)
		return
	}
	ch, err := r.state.Channels.Add(args[1], args[0])
	if err != nil {
		r.reply(ctx, m.ChatID, errText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, fmt.Sprintf("✅ Channel added!\n\n📝 Name: %s\n🆔 ID: %s", ch.Name, ch.DestinationID), nil)
}

func (r *Router) cmdListChannels(ctx context.Context, m *kit.Message) {
	chans := r.state.Channels.List()
	if len(chans) == 0 {
		r.reply(ctx, m.ChatID, "📭 No channels added yet.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("📋 Your Channels:\n\n")
	for _, c := range chans {
		fmt.Fprintf(&b, "🔹 %s: %s\n", c.Name, c.DestinationID)
	}
	r.reply(ctx, m.ChatID, b.String(), nil)
}

func (r *Router) cmdDeleteChannel(ctx context.Context, m *kit.Message, args []string) {
	if len(args) < 1 {
		r.reply(ctx, m.ChatID, "❌ Usage: /deletechannel <channel_name>", nil)
		return
	}
	name := delivery.CanonicalName(args[0])
	if err := r.state.Channels.Remove(name); err != nil {
		r.reply(ctx, m.ChatID, errText(err), nil)
		return
	}
	r.reply(ctx, m.ChatID, fmt.Sprintf("✅ Channel %s deleted!", name), nil)
}

func (r *Router) cmdSchedule(ctx context.Context, m *kit.Message, args []string) {
	if len(args) < 3 {
		r.reply(ctx, m.ChatID, "❌ Usage: /schedule <channel_name> <time_minutes> <message>\nExample: /schedule my_channel 30 Hello world!", nil)
		return
	}
	minutes, err := strconv.Atoi(args[1])
	if err != nil {
		r.reply(ctx, m.ChatID, "❌ Please provide a valid number for time.", nil)
		return
	}
	text := strings.Join(args[2:], " ")

	d, err := r.state.Deliveries.Create(m.ChatID, args[0], text, time.Duration(minutes)*time.Minute)
	if err != nil {
		r.reply(ctx, m.ChatID, errText(err), nil)
		return
	}
	r.sched.Arm(d.ID, d.DueAt)

	r.reply(ctx, m.ChatID, fmt.Sprintf(
		"✅ Message scheduled!\n\n📝 Message: %s\n📢 Channel: %s\n⏰ Time: %s\n🆔 ID: %s",
		d.Text, d.ChannelName, d.DueAt.Format("2006-01-02 15:04:05"), d.ID,
	), &kit.SendOptions{ReplyMarkupAdapter: controlKeyboard(d.ID)})
}

func (r *Router) cmdListSchedule(ctx context.Context, m *kit.Message) {
	pending := r.state.Deliveries.ListPending()
	if len(pending) == 0 {
		r.reply(ctx, m.ChatID, "📭 No scheduled messages.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("📋 Scheduled Messages:\n\n")
	now := time.Now()
	for _, d := range pending {
		status := "✅ ACTIVE"
		if !d.Active {
			status = "❌ INACTIVE"
		}
		remaining := int(d.DueAt.Sub(now).Minutes())
		if remaining < 0 {
			remaining = 0
		}
		fmt.Fprintf(&b,
			"🆔 %s\n📢 Channel: %s\n📝 %s\n⏰ %s\n⏳ In: %d minutes\n📊 %s\n────────────────────\n",
			d.ID, d.ChannelName, tgui.TruncRunes(d.Text, 50),
			d.DueAt.Format("2006-01-02 15:04:05"), remaining, status)
	}
	r.reply(ctx, m.ChatID, b.String(), nil)
}

func (r *Router) cmdHistory(ctx context.Context, m *kit.Message, args []string) {
	if r.hist == nil {
		r.reply(ctx, m.ChatID, "📭 History is not enabled.", nil)
		return
	}
	n := 10
	if len(args) > 0 {
		if v, err := strconv.Atoi(args[0]); err == nil && v > 0 && v <= 50 {
			n = v
		}
	}
	recs, err := r.hist.Recent(ctx, n)
	if err != nil {
		r.log.Warn("history read failed", logx.Err(err))
		r.reply(ctx, m.ChatID, "❌ Could not read history.", nil)
		return
	}
	if len(recs) == 0 {
		r.reply(ctx, m.ChatID, "📭 No concluded deliveries yet.", nil)
		return
	}
	var b strings.Builder
	b.WriteString("🗂 Recent deliveries:\n\n")
	for _, rec := range recs {
		icon := "✅"
		switch rec.Outcome {
		case "skipped":
			icon = "⏸"
		case "failed":
			icon = "❌"
		}
		fmt.Fprintf(&b, "%s %s → %s (%s)", icon, rec.DeliveryID, rec.Channel, rec.Outcome)
		if rec.Detail != "" {
			fmt.Fprintf(&b, ": %s", tgui.TruncRunes(rec.Detail, 80))
		}
		fmt.Fprintf(&b, "\n   %s\n", rec.ConcludedAt.Format("2006-01-02 15:04:05"))
	}
	r.reply(ctx, m.ChatID, b.String(), nil)
}

// controlKeyboard builds the ON / OFF / DELETE buttons attached to a
// scheduled message confirmation.
func controlKeyboard(id string) any {
	return tgui.NewInline().
		Row(
			tgui.Btn("✅ ON", tgui.Data(callbackScope, "enable", id)),
			tgui.Btn("❌ OFF", tgui.Data(callbackScope, "disable", id)),
		).
		Row(
			tgui.Btn("🗑 DELETE", tgui.Data(callbackScope, "delete", id)),
		).
		Markup()
}
