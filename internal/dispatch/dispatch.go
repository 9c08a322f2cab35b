// Package dispatch executes due deliveries: resolve the destination,
// perform the send, tell the requester, retire the record.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"schedbot/internal/delivery"
	"schedbot/internal/eventbus"
	"schedbot/internal/history"
	"schedbot/internal/scheduler"
	kit "schedbot/internal/transport"
	logx "schedbot/pkg/logx"
)

// Dispatcher wires the fire path. The send itself runs outside the state
// lock (the store methods lock internally); only the final retire
// re-enters the mutation domain.
type Dispatcher struct {
	log   logx.Logger
	state *delivery.State
	sched *scheduler.Service
	send  kit.Sender
	hist  history.Store // may be nil
	bus   eventbus.Bus  // may be nil

	sendTimeout time.Duration
}

type Config struct {
	// SendTimeout bounds one Transport send (and the requester notify).
	// 0 defaults to 30s.
	SendTimeout time.Duration
}

func New(cfg Config, state *delivery.State, sched *scheduler.Service, send kit.Sender, hist history.Store, bus eventbus.Bus, log logx.Logger) *Dispatcher {
	if log.IsZero() {
		log = logx.Nop()
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Dispatcher{
		log:         log,
		state:       state,
		sched:       sched,
		send:        send,
		hist:        hist,
		bus:         bus,
		sendTimeout: timeout,
	}
}

// SetScheduler breaks the construction cycle: the scheduler needs the
// dispatcher's Execute as its fire callback, and the dispatcher disarms
// through the scheduler.
func (dp *Dispatcher) SetScheduler(s *scheduler.Service) { dp.sched = s }

// Execute runs one due delivery to conclusion. It is the scheduler's fire
// callback, but is also safe to call directly (tests, manual replay).
func (dp *Dispatcher) Execute(id string) {
	d, err := dp.state.Deliveries.Get(id)
	if err != nil {
		// Deleted or already concluded by a concurrent path.
		dp.log.Debug("fire for unknown delivery; ignoring", logx.String("id", id))
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), dp.sendTimeout)
	defer cancel()

	switch {
	case !d.Active:
		// One-shot semantics: a disabled delivery is consumed, not deferred.
		dp.log.Info("delivery skipped (disabled)", logx.String("id", d.ID))
		dp.notify(ctx, d.RequesterChatID,
			fmt.Sprintf("⏸ Scheduled message to %q was disabled and has been skipped.\n\n%s", d.ChannelName, d.Text))
		dp.conclude(d, history.OutcomeSkipped, "")

	default:
		dest, err := dp.state.Channels.Resolve(d.ChannelName)
		if err != nil {
			dp.log.Warn("delivery channel no longer exists",
				logx.String("id", d.ID), logx.String("channel", d.ChannelName))
			dp.notify(ctx, d.RequesterChatID,
				fmt.Sprintf("❌ Scheduled message not sent: channel %q no longer exists.", d.ChannelName))
			dp.conclude(d, history.OutcomeFailed, "channel not found")
			break
		}

		if sendErr := dp.deliver(ctx, dest, d.Text); sendErr != nil {
			dp.log.Error("delivery send failed",
				logx.String("id", d.ID), logx.String("channel", d.ChannelName), logx.Err(sendErr))
			dp.notify(ctx, d.RequesterChatID,
				fmt.Sprintf("❌ Error sending scheduled message to %q: %v", d.ChannelName, sendErr))
			// No retry: a missed send is terminal and reported.
			dp.conclude(d, history.OutcomeFailed, sendErr.Error())
			break
		}

		dp.log.Info("delivery sent", logx.String("id", d.ID), logx.String("channel", d.ChannelName))
		dp.notify(ctx, d.RequesterChatID,
			fmt.Sprintf("✅ Scheduled message sent to %q!\n\n%s", d.ChannelName, d.Text))
		dp.conclude(d, history.OutcomeSent, "")
	}
}

// deliver sends to the resolved destination.
func (dp *Dispatcher) deliver(ctx context.Context, destinationID, text string) error {
	chatID, err := strconv.ParseInt(destinationID, 10, 64)
	if err != nil {
		return fmt.Errorf("malformed destination id %q: %w", destinationID, err)
	}
	_, err = dp.send.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil)
	return err
}

// notify tells the requester what happened. Best-effort: failures are
// logged, never propagated.
func (dp *Dispatcher) notify(ctx context.Context, chatID int64, text string) {
	if chatID == 0 {
		return
	}
	if _, err := dp.send.SendText(ctx, kit.ChatTarget{ChatID: chatID}, text, nil); err != nil {
		dp.log.Warn("requester notify failed", logx.Int64("chat_id", chatID), logx.Err(err))
	}
}

// conclude retires the delivery, drops timer bookkeeping and records the
// outcome. Always the final step, whether sent, skipped, or failed.
func (dp *Dispatcher) conclude(d delivery.Delivery, outcome history.Outcome, detail string) {
	if err := dp.state.Deliveries.Retire(d.ID); err != nil && !errors.Is(err, delivery.ErrDeliveryNotFound) {
		dp.log.Warn("retire failed", logx.String("id", d.ID), logx.Err(err))
	}
	if dp.sched != nil {
		dp.sched.Disarm(d.ID)
	}

	if dp.hist != nil {
		rec := history.Record{
			DeliveryID:      d.ID,
			Channel:         d.ChannelName,
			RequesterChatID: d.RequesterChatID,
			Text:            d.Text,
			DueAt:           d.DueAt,
			ConcludedAt:     time.Now(),
			Outcome:         outcome,
			Detail:          detail,
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := dp.hist.Append(ctx, rec); err != nil {
			dp.log.Warn("history append failed", logx.String("id", d.ID), logx.Err(err))
		}
		cancel()
	}

	if dp.bus != nil {
		typ := eventbus.TypeDeliverySent
		switch outcome {
		case history.OutcomeSkipped:
			typ = eventbus.TypeDeliverySkipped
		case history.OutcomeFailed:
			typ = eventbus.TypeDeliveryFailed
		}
		dp.bus.Publish(eventbus.Event{Type: typ, Data: d})
	}
}
