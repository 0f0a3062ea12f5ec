package engine

import (
	"context"
	"errors"

	"position-engine/infrastructure/alert"
	"position-engine/internal/execution"
	"position-engine/internal/ledger"
	"position-engine/inventory"
	"position-engine/order"
	"position-engine/risk"
)

// stagingPatience STAGING 下等待成交回报的 tick 数，超过后回到 FLAT。
const stagingPatience = 3

// balanceEpsilon 余额比较容差，远小于任何 stepSize。
const balanceEpsilon = 1e-9

// onFlat 信号触发且通过风控时开仓并下第一级。
func (e *Engine) onFlat(ctx context.Context, snap Snapshot) {
	trig := snap.Trigger
	if trig.None() {
		return
	}
	if trig.Ambiguous() {
		e.skipEntry("signal_conflict", nil)
		return
	}
	side := inventory.SideLong
	if trig.Short {
		side = inventory.SideShort
		if !e.params.AllowShort {
			e.skipEntry("short_disabled", nil)
			return
		}
	}

	notional, ok := inventory.NextStageTarget(e.params.Ladder, snap.Equity, 0)
	if !ok {
		e.skipEntry("no_equity", nil)
		return
	}
	err := e.gov.EntryGuards().PreEntry(risk.EntryContext{
		Symbol:        e.config.Symbol,
		Bid:           snap.Quote.Bid,
		Ask:           snap.Quote.Ask,
		Notional:      notional,
		TakeProfitPct: e.params.TakeProfitPct,
		State:         &e.risk,
	})
	if err != nil {
		e.skipEntry(skipReason(err), err)
		return
	}

	from := e.pos.State
	if err := e.pos.Open(side, e.params.TakeProfitPct, e.params.StopLossPct, snap.Equity, snap.Time); err != nil {
		e.log.LogError(err, map[string]interface{}{"action": "entry skipped"})
		return
	}
	e.log.LogTransition(string(from), string(e.pos.State), e.positionFields(map[string]interface{}{
		"signal": trig.String(), "equity": snap.Equity, "stage_notional": notional,
	}))
	e.stagingTicks = 0

	e.stagingFilled = e.stage(ctx, snap, notional)
	e.syncFills(ctx)
	e.settleStaging()
}

// onStaging 首笔成交到达后转 OPEN；迟迟没有成交则回到 FLAT。
func (e *Engine) onStaging(ctx context.Context, snap Snapshot) {
	if e.pos.HasExposure() {
		_ = e.transition(inventory.StateOpen, nil)
		e.onOpen(ctx, snap)
		return
	}
	e.stagingTicks++
	e.settleStaging()
}

// settleStaging 订单回报有成交但成交明细尚未到达时继续等待，否则回到 FLAT。
func (e *Engine) settleStaging() {
	if e.pos.State != inventory.StateStaging {
		return
	}
	if e.pos.HasExposure() {
		_ = e.transition(inventory.StateOpen, nil)
		return
	}
	if e.stagingFilled > 0 && e.stagingTicks < stagingPatience {
		return
	}
	if err := e.transition(inventory.StateFlat, map[string]interface{}{"reason": "no_entry_fill"}); err == nil {
		e.pos.Reset()
		e.ctrl.Forget()
	}
}

// onOpen 先检查止盈止损，未触发再考虑追加阶梯。
func (e *Engine) onOpen(ctx context.Context, snap Snapshot) {
	p := e.params
	if reason, hit := risk.Evaluate(e.pos, snap.Quote.Bid, snap.Quote.Ask, p.TPToleranceBps, p.SLToleranceBps); hit {
		e.pos.ExitReason = string(reason)
		e.exitAttempts = 0
		if err := e.transition(inventory.StateExiting, map[string]interface{}{
			"reason": string(reason), "bid": snap.Quote.Bid, "ask": snap.Quote.Ask,
		}); err != nil {
			return
		}
		if reason == risk.ExitStopLoss {
			e.notify(alert.StopLoss(e.config.Symbol, e.pos.EntryVWAP, e.pos.StopLossPrice, snap.Quote.Bid, snap.Quote.Ask))
		}
		e.onExiting(ctx, snap)
		return
	}

	if !p.AlwaysStage && !agrees(snap, e.pos.Side) {
		return
	}
	delta, ok := inventory.NextStageTarget(p.Ladder, e.pos.StageEquity, e.pos.CostBasis())
	if !ok {
		return
	}
	if err := e.gov.AllowEntry(&e.risk); err != nil {
		e.skipEntry(skipReason(err), err)
		return
	}
	if err := e.gov.SpreadOK(snap.Quote.Bid, snap.Quote.Ask); err != nil {
		e.skipEntry(skipReason(err), err)
		return
	}
	e.log.LogTrade("stage", map[string]interface{}{
		"symbol": e.config.Symbol, "cost_basis": e.pos.CostBasis(), "stage_notional": delta,
		"ceiling": p.Ladder.Ceiling(e.pos.StageEquity),
	})
	e.stage(ctx, snap, delta)
	e.syncFills(ctx)
}

func agrees(snap Snapshot, side inventory.Side) bool {
	if snap.Trigger.Ambiguous() {
		return false
	}
	if side == inventory.SideShort {
		return snap.Trigger.Short
	}
	return snap.Trigger.Long
}

// stage 下一级开仓 maker 单：改善价挂单，跟价，等待成交或超时。返回订单回报的成交量。
func (e *Engine) stage(ctx context.Context, snap Snapshot, notional float64) float64 {
	side := e.pos.Side.EntrySide()
	price := e.ctrl.ImprovedPrice(side, snap.Quote)
	qty, err := inventory.ToQuantity(notional, price, e.ctrl.Constraints())
	if err != nil {
		e.log.LogError(err, map[string]interface{}{"action": "stage skipped", "notional": notional, "price": price})
		e.mon.RecordEntrySkipped("sizing")
		return 0
	}
	res := e.ctrl.PlaceMaker(ctx, execution.MakerRequest{Side: side, Quantity: qty, Price: price, Intent: order.IntentEntry})
	if !res.OK() {
		e.execFailed(res.Err, "stage skipped")
		if res.Err.Class == execution.ClassMakerPlacement {
			e.mon.RecordEntrySkipped("maker_placement")
		}
		return 0
	}
	h := res.Handle
	cfg := e.ctrl.Config()
	if chased := e.ctrl.Chase(ctx, h, cfg.ChaseDuration); chased.OK() {
		h = chased.Handle
	} else {
		e.execFailed(chased.Err, "chase aborted")
	}
	out := e.ctrl.WaitFillOrTimeout(ctx, h, cfg.MakerTimeout)
	if out.Err != nil {
		e.log.LogError(out.Err, map[string]interface{}{"action": "entry wait abandoned", "order_id": out.OrderID})
	}
	return out.FilledQty
}

// onExiting maker 平仓优先；越过容差、止损未能 maker 平掉、或尝试次数用尽时转市价。
func (e *Engine) onExiting(ctx context.Context, snap Snapshot) {
	p := e.params
	sc := e.ctrl.Constraints()
	qty := e.exitQuantity(ctx)
	if qty <= 0 || (sc.MinQty > 0 && qty < sc.MinQty) {
		fields := map[string]interface{}{
			"symbol": e.config.Symbol, "remaining": e.pos.Remaining(), "exit_qty": qty, "min_qty": sc.MinQty,
		}
		if e.pos.ExitedQty == 0 {
			// 一笔都没平掉：剩余 base 无法卖出，留在账户里
			e.log.LogRisk("stranded_remainder", fields)
		} else {
			e.log.LogTrade("dust_remainder", fields)
		}
		e.closePosition(ctx, snap)
		return
	}
	if e.exitAttempts >= p.MaxExitAttempts {
		e.exitMarket(ctx, snap, "attempts_exhausted")
		e.finishIfExited(ctx, snap)
		return
	}
	if risk.BeyondTolerance(e.pos, snap.Quote.Bid, snap.Quote.Ask, p.TPToleranceBps, p.SLToleranceBps) {
		e.exitMarket(ctx, snap, "beyond_tolerance")
		e.finishIfExited(ctx, snap)
		return
	}

	e.exitAttempts++
	side := e.pos.Side.ExitSide()
	res := e.ctrl.PlaceMaker(ctx, execution.MakerRequest{
		Side: side, Quantity: qty, Price: e.ctrl.ImprovedPrice(side, snap.Quote),
		Intent: order.IntentExit, ReduceOnly: true,
	})
	if !res.OK() {
		e.execFailed(res.Err, "maker exit skipped")
		if res.Err.Class == execution.ClassMakerPlacement || e.pos.ExitReason == string(risk.ExitStopLoss) {
			e.exitMarket(ctx, snap, "maker_placement")
		}
		e.finishIfExited(ctx, snap)
		return
	}

	// 挂单后再读一次盘口，价格已越过容差则立即撤单转市价
	if q, err := e.ctrl.Quote(ctx); err == nil && q.Valid() &&
		risk.BeyondTolerance(e.pos, q.Bid, q.Ask, p.TPToleranceBps, p.SLToleranceBps) {
		e.ctrl.WaitFillOrTimeout(ctx, res.Handle, 0)
		e.syncFills(ctx)
		e.exitMarket(ctx, Snapshot{Time: snap.Time, Quote: q, Equity: snap.Equity}, "beyond_tolerance")
		e.finishIfExited(ctx, snap)
		return
	}

	out := e.ctrl.WaitFillOrTimeout(ctx, res.Handle, e.ctrl.Config().MakerTimeout)
	if out.Err != nil {
		e.log.LogError(out.Err, map[string]interface{}{"action": "exit wait abandoned", "order_id": out.OrderID})
	}
	e.syncFills(ctx)
	if e.pos.ExitReason == string(risk.ExitStopLoss) && !inventory.FullyExited(e.pos, sc.StepSize) {
		e.exitMarket(ctx, snap, "stop_loss_unfilled")
	}
	e.finishIfExited(ctx, snap)
}

// exitQuantity 剩余数量按步长取整；多头不超过可用 base 余额。
func (e *Engine) exitQuantity(ctx context.Context) float64 {
	qty := e.pos.Remaining()
	if e.pos.Side == inventory.SideLong {
		if bals, err := e.ctrl.Balances(ctx); err == nil {
			if free := bals[e.config.BaseAsset].Free; free+balanceEpsilon < qty {
				e.log.LogRisk("exit_capped", map[string]interface{}{
					"symbol": e.config.Symbol, "remaining": qty, "free_base": free,
				})
				qty = free
			}
		}
	}
	return e.ctrl.Constraints().FloorQuantity(qty)
}

// exitMarket 市价平掉剩余数量。
func (e *Engine) exitMarket(ctx context.Context, snap Snapshot, why string) {
	qty := e.exitQuantity(ctx)
	if qty <= 0 {
		return
	}
	e.log.LogTrade("exit_market", map[string]interface{}{
		"symbol": e.config.Symbol, "why": why, "qty": qty, "bid": snap.Quote.Bid, "ask": snap.Quote.Ask,
	})
	e.notify(alert.MarketFallback(e.config.Symbol, why, qty))
	res := e.ctrl.MarketFallback(ctx, e.pos.Side.ExitSide(), qty, order.IntentExit)
	if !res.OK() {
		e.execFailed(res.Err, "market exit failed")
		return
	}
	out := e.ctrl.WaitFillOrTimeout(ctx, res.Handle, e.ctrl.Config().MakerTimeout)
	if out.Err != nil {
		e.log.LogError(out.Err, map[string]interface{}{"action": "market exit wait abandoned", "order_id": out.OrderID})
	}
	e.syncFills(ctx)
}

func (e *Engine) finishIfExited(ctx context.Context, snap Snapshot) {
	if inventory.FullyExited(e.pos, e.ctrl.Constraints().StepSize) {
		e.closePosition(ctx, snap)
	}
}

// closePosition 计算净盈亏、写账本、更新风控，然后 EXITING -> CLOSED -> FLAT。
// 账本写入失败只记录日志。
func (e *Engine) closePosition(ctx context.Context, snap Snapshot) {
	pnl := e.pos.RealizedPnL()
	equity := snap.Equity + pnl
	if bals, err := e.ctrl.Balances(ctx); err == nil {
		equity = Equity(bals, e.config.BaseAsset, e.config.QuoteAsset, snap.Quote.Mid())
	}
	reason := e.pos.ExitReason
	qty := e.pos.ExitedQty
	if qty == 0 {
		qty = e.pos.Quantity
	}
	trade := ledger.Trade{
		Timestamp:   e.clock.Now(),
		OpenedAt:    e.pos.OpenedAt,
		Symbol:      e.config.Symbol,
		Side:        string(e.pos.Side),
		EntryPrice:  e.pos.EntryVWAP,
		ExitPrice:   e.pos.ExitVWAP,
		Quantity:    qty,
		Fees:        e.pos.EntryFees + e.pos.ExitFees,
		RealizedPnL: pnl,
		EquityAfter: equity,
		ExitReason:  reason,
	}
	if err := e.ledger.RecordTrade(ctx, trade); err != nil {
		e.log.LogError(err, map[string]interface{}{"action": "ledger write skipped", "realized_pnl": pnl})
	}
	e.gov.RecordTrade(pnl, &e.risk)
	e.mon.RecordTrade(reason, pnl)
	e.log.LogTrade("position_closed", e.positionFields(map[string]interface{}{
		"exit_vwap": e.pos.ExitVWAP, "exited_qty": e.pos.ExitedQty, "fees": trade.Fees,
		"realized_pnl": pnl, "equity_after": equity, "reason": reason,
		"consecutive_losses": e.risk.ConsecutiveLosses, "fills": e.pos.FillCount(),
	}))
	e.notify(alert.TradeClosed(e.config.Symbol, reason, pnl, equity))

	if err := e.transition(inventory.StateClosed, map[string]interface{}{"realized_pnl": pnl, "reason": reason}); err != nil {
		return
	}
	_ = e.transition(inventory.StateFlat, nil)
	e.pos.Reset()
	e.exitAttempts = 0
	e.ctrl.Forget()
}

// syncFills 拉取本仓位期间的成交并按意图并入仓位。以 base 扣费的买入按到账数量计；
// 手续费缺失时按角色费率估算。
func (e *Engine) syncFills(ctx context.Context) {
	if e.pos.State == inventory.StateFlat {
		return
	}
	fills, err := e.ctrl.CollectFills(ctx, e.pos.OpenedAt.Add(-fillLookback))
	if err != nil {
		e.execFailed(&execution.Error{Class: execution.ClassTransient, Op: "collect_fills", Err: err}, "fill sync skipped")
		return
	}
	for _, tf := range fills {
		f := tf.Fill.NetOfCommission(e.config.BaseAsset)
		if f.Fee == 0 {
			f.Fee = f.Price * f.Quantity * e.gov.FeeRate(tf.Role)
		}
		var applied bool
		if tf.Intent == order.IntentExit {
			applied = inventory.ApplyExitFill(e.pos, f)
		} else {
			applied = inventory.ApplyFill(e.pos, f)
		}
		if !applied {
			continue
		}
		e.mon.RecordFill(string(tf.Intent), string(tf.Role))
		e.log.LogTrade("fill", e.positionFields(map[string]interface{}{
			"trade_id": f.TradeID, "order_id": f.OrderID, "intent": string(tf.Intent), "role": string(tf.Role),
			"price": f.Price, "fill_qty": f.Quantity, "fee": f.Fee,
		}))
	}
}

func (e *Engine) execFailed(err *execution.Error, action string) {
	if err == nil {
		return
	}
	e.log.LogError(err, map[string]interface{}{"action": action, "class": string(err.Class), "op": err.Op})
}

func (e *Engine) skipEntry(reason string, err error) {
	e.mon.RecordEntrySkipped(reason)
	fields := map[string]interface{}{"symbol": e.config.Symbol, "reason": reason, "state": string(e.pos.State)}
	if err != nil {
		fields["error"] = err.Error()
	}
	e.log.LogRisk("entry_skipped", fields)
}

func skipReason(err error) string {
	switch {
	case errors.Is(err, risk.ErrHalted):
		return "halted"
	case errors.Is(err, risk.ErrLossStreak):
		return "loss_streak"
	case errors.Is(err, risk.ErrSpreadTooWide):
		return "spread"
	case errors.Is(err, risk.ErrFeeEdge):
		return "fee_edge"
	case errors.Is(err, risk.ErrNoQuote):
		return "no_quote"
	}
	return "other"
}
