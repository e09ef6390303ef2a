package engine

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/giftwell/gift-automation/internal/config"
	"github.com/giftwell/gift-automation/internal/domain"
	"github.com/giftwell/gift-automation/internal/gateway/notify"
	"github.com/giftwell/gift-automation/internal/pkg/logger"
)

// Engine advances every automation-enabled gift through its lifecycle.
type Engine struct {
	gifts      GiftStore
	recipients RecipientStore
	ledger     Ledger
	fulfiller  Fulfiller
	charger    Charger
	dispatcher notify.Dispatcher
	audit      AuditLog
	cfg        config.EngineConfig

	// now is injectable so tests can pin the batch date.
	now func() time.Time
}

// New creates a lifecycle engine.
func New(gifts GiftStore, recipients RecipientStore, ledger Ledger,
	fulfiller Fulfiller, charger Charger, dispatcher notify.Dispatcher,
	audit AuditLog, cfg config.EngineConfig) *Engine {
	return &Engine{
		gifts:      gifts,
		recipients: recipients,
		ledger:     ledger,
		fulfiller:  fulfiller,
		charger:    charger,
		dispatcher: dispatcher,
		audit:      audit,
		cfg:        cfg,
		now:        time.Now,
	}
}

// SetClock overrides the engine's notion of "now".
func (e *Engine) SetClock(now func() time.Time) { e.now = now }

// Stats summarizes one engine pass.
type Stats struct {
	Processed int64 // gifts evaluated
	Executed  int64 // stage transitions that ran
	Errors    int64 // gifts whose stage handler failed
}

// Run executes one batch pass. Gifts belonging to the same user are
// processed sequentially so the wallet's available-balance math is never
// interleaved; distinct users run in parallel up to cfg.UserConcurrency.
// A failure in one gift never aborts the batch.
func (e *Engine) Run(ctx context.Context) (Stats, error) {
	var stats Stats

	gifts, err := e.gifts.ListAutomated(ctx, e.cfg.BatchLimit)
	if err != nil {
		return stats, fmt.Errorf("list automated gifts: %w", err)
	}
	if len(gifts) == 0 {
		return stats, nil
	}

	// Group per user, preserving delivery-date order within each group.
	byUser := make(map[string][]domain.ScheduledGift)
	var order []string
	for _, g := range gifts {
		if _, seen := byUser[g.UserID]; !seen {
			order = append(order, g.UserID)
		}
		byUser[g.UserID] = append(byUser[g.UserID], g)
	}

	sem := make(chan struct{}, e.cfg.UserConcurrency)
	var wg sync.WaitGroup
	for _, userID := range order {
		userGifts := byUser[userID]
		wg.Add(1)
		sem <- struct{}{}
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			for i := range userGifts {
				if ctx.Err() != nil {
					return
				}
				executed, failed := e.runGift(ctx, &userGifts[i])
				atomic.AddInt64(&stats.Processed, 1)
				if executed {
					atomic.AddInt64(&stats.Executed, 1)
				}
				if failed {
					atomic.AddInt64(&stats.Errors, 1)
				}
			}
		}()
	}
	wg.Wait()

	logger.Info("engine pass complete",
		"processed", stats.Processed, "executed", stats.Executed, "errors", stats.Errors)
	return stats, ctx.Err()
}

// runGift evaluates the stage table for one gift inside its own error
// boundary. At most one stage transition executes.
func (e *Engine) runGift(ctx context.Context, g *domain.ScheduledGift) (executed, failed bool) {
	// current names the stage whose handler is running, so a recovered
	// panic is attributed to it; empty while still building context.
	var current domain.Stage
	defer func() {
		if r := recover(); r != nil {
			failed = true
			e.record(ctx, g, current, domain.ActionError,
				fmt.Sprintf("panic: %v", r), nil)
			logger.Error("gift handler panicked", "gift_id", g.ID,
				"stage", string(current), "panic", fmt.Sprintf("%v", r))
		}
	}()

	gc, err := e.buildContext(ctx, g)
	if err != nil {
		e.record(ctx, g, "", domain.ActionError, err.Error(), nil)
		return false, true
	}

	for _, st := range e.stages() {
		if !st.when(gc) {
			continue
		}
		current = st.name
		outcome, err := st.run(ctx, gc)
		if err != nil {
			e.record(ctx, g, st.name, domain.ActionError, err.Error(), nil)
			logger.Warn("stage failed", "gift_id", g.ID, "stage", string(st.name), "error", err.Error())
			return false, true
		}
		e.record(ctx, g, st.name, domain.ActionExecuted, outcome, nil)
		return true, false
	}
	return false, false
}

// giftCtx carries everything a stage predicate or handler needs for one gift.
type giftCtx struct {
	gift      *domain.ScheduledGift
	recipient *domain.Recipient
	owner     *domain.WalletOwner
	today     time.Time
	daysUntil int
}

func (e *Engine) buildContext(ctx context.Context, g *domain.ScheduledGift) (*giftCtx, error) {
	r, err := e.recipients.Recipient(ctx, g.RecipientID)
	if err != nil {
		return nil, fmt.Errorf("load recipient %s: %w", g.RecipientID, err)
	}
	o, err := e.ledger.Owner(ctx, g.UserID)
	if err != nil {
		return nil, fmt.Errorf("load wallet owner %s: %w", g.UserID, err)
	}
	today := e.now().UTC()
	return &giftCtx{
		gift:      g,
		recipient: r,
		owner:     o,
		today:     today,
		daysUntil: g.DaysUntilDelivery(today),
	}, nil
}

// record writes one automation-log row. Audit failures are logged and
// swallowed: losing an audit row must never change engine behavior.
func (e *Engine) record(ctx context.Context, g *domain.ScheduledGift, stage domain.Stage, action domain.LogAction, outcome string, detail map[string]any) {
	entry := &domain.AutomationLogEntry{
		ID:              uuid.New().String(),
		UserID:          g.UserID,
		RecipientID:     g.RecipientID,
		ScheduledGiftID: g.ID,
		Stage:           stage,
		Action:          action,
		Outcome:         outcome,
		Detail:          detail,
		CreatedAt:       e.now().UTC(),
	}
	if err := e.audit.Record(ctx, entry); err != nil {
		logger.Error("automation log write failed", "gift_id", g.ID, "error", err.Error())
	}
}

// notifyUser sends a best-effort notification. Failures are logged and
// never block a stage transition.
func (e *Engine) notifyUser(ctx context.Context, gc *giftCtx, kind notify.Kind, data map[string]any) {
	if data == nil {
		data = map[string]any{}
	}
	data["gift_id"] = gc.gift.ID
	data["recipient_name"] = gc.recipient.Name
	data["delivery_date"] = gc.gift.DeliveryDate.Format("2006-01-02")

	nctx, cancel := context.WithTimeout(ctx, e.cfg.GatewayTimeout())
	defer cancel()
	if err := e.dispatcher.Send(nctx, kind, gc.owner.Email, data); err != nil {
		logger.Warn("notification failed", "gift_id", gc.gift.ID,
			"kind", string(kind), "error", err.Error())
	}
}

// gatewayCtx bounds an external call so one slow provider can't stall the
// batch. Timeouts surface as that stage's failure, not an engine crash.
func (e *Engine) gatewayCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, e.cfg.GatewayTimeout())
}
