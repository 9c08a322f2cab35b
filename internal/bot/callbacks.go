package bot

import (
	"context"
	"fmt"

	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
	"schedbot/pkg/tgui"
)

// handleCallback routes the per-delivery control buttons
// (sched:enable:<id>, sched:disable:<id>, sched:delete:<id>).
// Unauthorized presses are answered silently so the button spinner stops.
func (r *Router) handleCallback(ctx context.Context, cb *kit.Callback) {
	defer func() {
		if err := r.adapter.AnswerCallback(ctx, cb.ID, ""); err != nil {
			r.log.Debug("callback answer failed", logx.Err(err))
		}
	}()

	if !r.authorized(cb.FromID) {
		r.log.Warn("unauthorized callback", logx.Int64("from", cb.FromID))
		return
	}

	scope, action, id := tgui.SplitData(cb.Data)
	if scope != callbackScope || id == "" {
		return
	}
	ref := kit.MessageRef{ChatID: cb.ChatID, MessageID: cb.MessageID}

	switch action {
	case "enable":
		r.toggle(ctx, ref, id, true)
	case "disable":
		r.toggle(ctx, ref, id, false)
	case "delete":
		r.delete(ctx, ref, id)
	}
}

func (r *Router) toggle(ctx context.Context, ref kit.MessageRef, id string, active bool) {
	if err := r.state.Deliveries.SetActive(id, active); err != nil {
		r.edit(ctx, ref, errText(err), nil)
		return
	}
	d, err := r.state.Deliveries.Get(id)
	if err != nil {
		r.edit(ctx, ref, errText(err), nil)
		return
	}
	head := "✅ Message enabled!"
	if !active {
		head = "❌ Message disabled!"
	}
	r.edit(ctx, ref, fmt.Sprintf("%s\n\n%s", head, d.Text),
		&kit.SendOptions{ReplyMarkupAdapter: controlKeyboard(id)})
}

func (r *Router) delete(ctx context.Context, ref kit.MessageRef, id string) {
	// Disarm before the record goes away so a late timer callback cannot
	// act on a freshly deleted id.
	r.sched.Disarm(id)
	if err := r.state.Deliveries.Delete(id); err != nil {
		r.edit(ctx, ref, errText(err), nil)
		return
	}
	r.edit(ctx, ref, "🗑 Message deleted!", nil)
}

func (r *Router) edit(ctx context.Context, ref kit.MessageRef, text string, opt *kit.SendOptions) {
	if err := r.adapter.EditText(ctx, ref, text, opt); err != nil {
		r.log.Warn("message edit failed", logx.Int64("chat_id", ref.ChatID), logx.Err(err))
	}
}
