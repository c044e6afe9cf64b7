package trader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"gridbot/config"
	"gridbot/kernel"
	"gridbot/logger"
	"gridbot/metrics"
	"gridbot/store"
	"gridbot/trader/types"
)

// nowFunc is the manager clock
var nowFunc = time.Now

// ErrCycleAborted wraps the cause of an aborted cycle. Nothing is committed
// after the abort point; the next reconcile re-derives state from the venue.
var ErrCycleAborted = errors.New("grid cycle aborted")

var errNilResponse = errors.New("gateway returned no response")

// position size below this is treated as flat
const sizeEpsilon = 1e-9

// Journal receives the audit trail of grid decisions. Failures are logged
// and never change a trading decision.
type Journal interface {
	SaveGridInstance(instance *store.GridInstanceModel) error
	CloseGridInstance(id, reason string, stoppedAt time.Time) error
	SaveGridRung(rung *store.GridRungModel) error
	UpdateRungStatus(orderID, status, reason string) error
	SaveGridEvent(event *store.GridEventModel) error
	SaveSignalAssessment(assessment *store.SignalAssessmentModel) error
}

// CycleReport summarizes what one cycle did
type CycleReport struct {
	Signal       kernel.TradeSignal `json:"signal"`
	Filled       int                `json:"filled"`
	Expired      int                `json:"expired"`
	Closed       int                `json:"closed"`
	Recovered    int                `json:"recovered"`
	StrayCancels int                `json:"stray_cancels"`
	Submitted    int                `json:"submitted"`
	Rejected     int                `json:"rejected"`
	Cancelled    int                `json:"cancelled"`
	TornDown     []kernel.Direction `json:"torn_down,omitempty"`
	OpenedGridID string             `json:"opened_grid_id,omitempty"`
	Skipped      string             `json:"skipped,omitempty"`
}

// GridManager owns the grid states and drives their lifecycle
// Idle -> GridActive -> TearingDown -> Idle, at most one grid per direction.
type GridManager struct {
	gateway types.Gateway
	sizer   *kernel.GridSizer
	journal Journal
	symbol  string
	grid    config.GridConfig

	mu     sync.RWMutex
	states map[kernel.Direction]*GridState

	// unattributed venue exposure per direction at the last reconcile
	exposure map[kernel.Direction]float64
	// positions of torn-down grids, watched until they close
	detached map[string]*TrackedPosition
}

// NewGridManager creates a grid manager for one symbol
func NewGridManager(gateway types.Gateway, sizer *kernel.GridSizer, symbol string, grid config.GridConfig) *GridManager {
	if grid.ClientIDPrefix == "" {
		grid.ClientIDPrefix = "grid"
	}
	return &GridManager{
		gateway:  gateway,
		sizer:    sizer,
		symbol:   symbol,
		grid:     grid,
		states:   make(map[kernel.Direction]*GridState),
		exposure: make(map[kernel.Direction]float64),
		detached: make(map[string]*TrackedPosition),
	}
}

// SetJournal attaches an audit journal
func (m *GridManager) SetJournal(j Journal) {
	m.journal = j
}

// Snapshot returns read-only copies of the live grids
func (m *GridManager) Snapshot() []GridStateView {
	m.mu.RLock()
	defer m.mu.RUnlock()

	views := make([]GridStateView, 0, len(m.states))
	for _, st := range m.states {
		views = append(views, st.view())
	}
	sort.Slice(views, func(i, j int) bool { return views[i].Direction < views[j].Direction })
	return views
}

// Phase returns the lifecycle phase of a direction
func (m *GridManager) Phase(direction kernel.Direction) GridPhase {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if st, ok := m.states[direction]; ok {
		return st.Phase
	}
	return PhaseIdle
}

// RunCycle reconciles with the venue, retires exhausted grids and acts on
// the signal. basePrice anchors a new ladder and atr sets its SL/TP distance.
func (m *GridManager) RunCycle(ctx context.Context, sig kernel.TradeSignal, basePrice, atr float64) (*CycleReport, error) {
	report := &CycleReport{Signal: sig}

	if err := m.reconcile(ctx, report); err != nil {
		return report, m.abort("reconcile", err)
	}
	if err := m.resolve(ctx, report); err != nil {
		return report, m.abort("resolve", err)
	}
	if !sig.Direction.Valid() {
		return report, nil
	}

	if opp := m.state(sig.Direction.Opposite()); opp != nil {
		logger.Infof("[Grid] 🔄 %s signal, tearing down %s grid %s", sig.Direction, opp.Direction, opp.ID)
		if err := m.teardown(ctx, opp, "opposite_signal", report); err != nil {
			return report, m.abort("teardown", err)
		}
	}

	if own := m.state(sig.Direction); own != nil {
		report.Skipped = fmt.Sprintf("%s grid %s already %s", sig.Direction, own.ID, own.Phase)
		logger.Infof("[Grid] ⏭️ %s", report.Skipped)
		return report, nil
	}

	if err := m.openGrid(ctx, sig.Direction, basePrice, atr, report); err != nil {
		if errors.Is(err, ErrCycleAborted) {
			return report, err
		}
		return report, fmt.Errorf("open %s grid: %w", sig.Direction, err)
	}
	return report, nil
}

// ============================================================================
// Reconcile
// ============================================================================

// reconcile matches tracked orders and positions against the venue. An
// order that left the book became a position if the venue attributes a
// position to it, or, for aggregated positions, if the direction's
// exposure grew above the grid's baseline; otherwise it was canceled or
// expired.
func (m *GridManager) reconcile(ctx context.Context, report *CycleReport) error {
	q := &types.QueryRequest{Symbol: m.symbol}
	if err := q.Validate(); err != nil {
		return err
	}

	pending, err := m.gateway.ListPendingOrders(ctx, q)
	if err != nil {
		return fmt.Errorf("list pending orders: %w", err)
	}
	if pending == nil {
		return fmt.Errorf("list pending orders: %w", errNilResponse)
	}
	positions, err := m.gateway.ListOpenPositions(ctx, q)
	if err != nil {
		return fmt.Errorf("list open positions: %w", err)
	}
	if positions == nil {
		return fmt.Errorf("list open positions: %w", errNilResponse)
	}

	pendingIDs := make(map[string]bool, len(pending))
	for _, o := range pending {
		pendingIDs[o.ID] = true
	}
	bySource := make(map[string]types.OpenPosition)
	positionIDs := make(map[string]bool, len(positions))
	exposure := make(map[kernel.Direction]float64)
	aggregate := make(map[kernel.Direction]types.OpenPosition)
	for _, p := range positions {
		positionIDs[p.ID] = true
		if p.SourceOrderID != "" {
			bySource[p.SourceOrderID] = p
			continue
		}
		exposure[p.Direction] += p.Size
		if _, ok := aggregate[p.Direction]; !ok {
			aggregate[p.Direction] = p
		}
	}

	now := nowFunc()
	m.mu.Lock()
	for dir, st := range m.states {
		growth := exposure[dir] - st.Baseline - st.inferredSize()
		for _, o := range st.sortedOrders() {
			if pendingIDs[o.OrderID] {
				continue
			}
			delete(st.Orders, o.OrderID)

			pos, attributed := bySource[o.OrderID]
			inferred := false
			if !attributed && growth > sizeEpsilon {
				pos, attributed, inferred = aggregate[dir], true, true
				pos.EntryPrice = o.Price
				growth -= o.Size
			}
			if attributed {
				st.Positions[o.OrderID] = &TrackedPosition{
					OrderID:    o.OrderID,
					ClientID:   o.ClientID,
					PositionID: pos.ID,
					EntryPrice: pos.EntryPrice,
					Size:       o.Size,
					Inferred:   inferred,
					FilledAt:   now,
				}
				report.Filled++
				logger.Infof("[Grid] ✅ %s rung %d order %s filled at $%.2f", dir, o.RungIndex, o.OrderID, o.Price)
				m.recordRungStatus(o.OrderID, store.RungStatusFilled, "")
				m.recordEvent(st, store.EventFill, o.OrderID, o.Price, o.Size, "")
				continue
			}

			report.Expired++
			logger.Infof("[Grid] %s rung %d order %s canceled/expired", dir, o.RungIndex, o.OrderID)
			m.recordRungStatus(o.OrderID, store.RungStatusExpired, "left the book without a fill")
			m.recordEvent(st, store.EventExpire, o.OrderID, o.Price, o.Size, "")
		}
	}
	m.mu.Unlock()

	if err := m.releaseClosed(ctx, positionIDs, report); err != nil {
		return err
	}

	m.mu.Lock()
	for dir, st := range m.states {
		st.Baseline = math.Max(0, exposure[dir]-st.inferredSize())
	}
	m.exposure = exposure
	m.mu.Unlock()

	return m.recover(ctx, pending, report)
}

type closedPosition struct {
	grid *GridState // nil for a position of a torn-down grid
	pos  *TrackedPosition
}

// releaseClosed drops tracked positions whose venue position is gone and
// cancels the SL/TP they left behind. A connection failure keeps the
// position tracked so the next cycle retries.
func (m *GridManager) releaseClosed(ctx context.Context, positionIDs map[string]bool, report *CycleReport) error {
	var closed []closedPosition
	m.mu.RLock()
	for _, st := range m.states {
		for _, p := range st.Positions {
			if !positionIDs[p.PositionID] {
				closed = append(closed, closedPosition{grid: st, pos: p})
			}
		}
	}
	for _, p := range m.detached {
		if !positionIDs[p.PositionID] {
			closed = append(closed, closedPosition{pos: p})
		}
	}
	m.mu.RUnlock()
	sort.Slice(closed, func(i, j int) bool { return closed[i].pos.OrderID < closed[j].pos.OrderID })

	canceler, _ := m.gateway.(types.ProtectionCanceler)
	for _, c := range closed {
		if canceler != nil && c.pos.ClientID != "" {
			req := &types.ProtectionRequest{Symbol: m.symbol, ClientID: c.pos.ClientID}
			if err := canceler.CancelProtection(ctx, req); err != nil {
				if types.IsConnectionError(err) {
					return fmt.Errorf("cancel protection of %s: %w", c.pos.OrderID, err)
				}
				logger.WithField("client_id", c.pos.ClientID).Warnf("[Grid] ⚠️ leftover SL/TP not canceled: %v", err)
			}
		}

		m.mu.Lock()
		if c.grid != nil {
			delete(c.grid.Positions, c.pos.OrderID)
		} else {
			delete(m.detached, c.pos.OrderID)
		}
		m.mu.Unlock()
		report.Closed++
		logger.Infof("[Grid] position from order %s closed on venue, leftover SL/TP released", c.pos.OrderID)
		if c.grid != nil {
			m.recordEvent(c.grid, store.EventClose, c.pos.OrderID, c.pos.EntryPrice, c.pos.Size, "")
		}
	}
	return nil
}

// recover adopts tagged pending orders the manager does not track, e.g.
// after a restart or an aborted submission. Orders for the direction
// opposite an active grid are canceled instead.
func (m *GridManager) recover(ctx context.Context, pending []types.PendingOrder, report *CycleReport) error {
	adopted := make(map[kernel.Direction]*GridState)
	for _, o := range pending {
		dir, index, ok := parseGridClientID(m.grid.ClientIDPrefix, o.ClientID)
		if !ok || m.tracks(o.ID) {
			continue
		}

		if opp := m.state(dir.Opposite()); opp != nil {
			req := &types.CancelRequest{Symbol: m.symbol, OrderID: o.ID, ClientID: o.ClientID}
			outcome, err := m.gateway.Cancel(ctx, req)
			if err != nil {
				if types.IsConnectionError(err) {
					return fmt.Errorf("cancel stray order %s: %w", o.ID, err)
				}
				m.cancelRejected(nil, req, err)
				continue
			}
			metrics.OrdersCancelledTotal.WithLabelValues(string(dir), string(outcome)).Inc()
			report.StrayCancels++
			logger.Warnf("[Grid] ⚠️ canceled stray %s order %s while %s grid %s is active (%s)",
				dir, o.ID, opp.Direction, opp.ID, outcome)
			continue
		}

		st := m.state(dir)
		if st == nil {
			st = NewGridState(dir, nowFunc())
			st.Recovered = true
			m.mu.Lock()
			st.Baseline = m.exposure[dir]
			m.states[dir] = st
			m.mu.Unlock()
			adopted[dir] = st
			metrics.SetGridActive(string(dir), true)
			logger.Infof("[Grid] 🔁 recovered %s grid %s from venue orders", dir, st.ID)
		}

		m.mu.Lock()
		st.Orders[o.ID] = &TrackedOrder{
			OrderID:     o.ID,
			ClientID:    o.ClientID,
			RungIndex:   index,
			Price:       o.Price,
			Size:        o.Size,
			SubmittedAt: nowFunc(),
		}
		m.mu.Unlock()
		report.Recovered++
		m.recordEvent(st, store.EventRecover, o.ID, o.Price, o.Size, o.ClientID)
	}

	for _, dir := range []kernel.Direction{kernel.DirectionBuy, kernel.DirectionSell} {
		if st, ok := adopted[dir]; ok {
			m.recordInstance(st, 0, 0)
		}
	}
	return nil
}

// ============================================================================
// Resolve
// ============================================================================

// resolve retires grids with nothing left on the venue and resumes
// teardowns interrupted by an earlier abort
func (m *GridManager) resolve(ctx context.Context, report *CycleReport) error {
	for _, dir := range []kernel.Direction{kernel.DirectionBuy, kernel.DirectionSell} {
		st := m.state(dir)
		if st == nil {
			continue
		}
		switch {
		case st.Phase == PhaseTearingDown:
			logger.Infof("[Grid] resuming teardown of %s grid %s", dir, st.ID)
			if err := m.teardown(ctx, st, "resume", report); err != nil {
				return err
			}
		case st.Empty():
			logger.Infof("[Grid] %s grid %s has no orders or positions left", dir, st.ID)
			if err := m.teardown(ctx, st, "exhausted", report); err != nil {
				return err
			}
		}
	}
	return nil
}

// ============================================================================
// Teardown
// ============================================================================

// teardown cancels the pending orders of st, verifies once and returns the
// direction to Idle. Open positions are left to their brackets.
func (m *GridManager) teardown(ctx context.Context, st *GridState, reason string, report *CycleReport) error {
	m.mu.Lock()
	st.Phase = PhaseTearingDown
	m.mu.Unlock()

	for _, o := range st.sortedOrders() {
		req := &types.CancelRequest{Symbol: m.symbol, OrderID: o.OrderID, ClientID: o.ClientID}
		if err := req.Validate(); err != nil {
			logger.Warnf("[Grid] ⚠️ skip cancel of %s: %v", o.OrderID, err)
			continue
		}
		outcome, err := m.gateway.Cancel(ctx, req)
		if err != nil {
			if types.IsConnectionError(err) {
				metrics.OrdersCancelledTotal.WithLabelValues(string(st.Direction), "error").Inc()
				return fmt.Errorf("cancel order %s: %w", o.OrderID, err)
			}
			metrics.OrdersCancelledTotal.WithLabelValues(string(st.Direction), "rejected").Inc()
			m.cancelRejected(st, req, err)
			continue
		}

		m.mu.Lock()
		delete(st.Orders, o.OrderID)
		m.mu.Unlock()
		report.Cancelled++
		metrics.OrdersCancelledTotal.WithLabelValues(string(st.Direction), string(outcome)).Inc()
		logger.Infof("[Grid] Cancelled %s rung %d order %s (%s)", st.Direction, o.RungIndex, o.OrderID, outcome)
		m.recordRungStatus(o.OrderID, store.RungStatusCanceled, reason)
		m.recordEvent(st, store.EventCancel, o.OrderID, o.Price, o.Size, string(outcome))
	}

	pending, err := m.gateway.ListPendingOrders(ctx, &types.QueryRequest{Symbol: m.symbol})
	if err != nil {
		return fmt.Errorf("verify teardown: %w", err)
	}
	if pending == nil {
		return fmt.Errorf("verify teardown: %w", errNilResponse)
	}
	for _, o := range pending {
		if _, ok := st.Orders[o.ID]; ok {
			logger.Warnf("[Grid] ⚠️ order %s still pending after teardown of %s grid %s", o.ID, st.Direction, st.ID)
		}
	}

	m.mu.Lock()
	st.Phase = PhaseIdle
	delete(m.states, st.Direction)
	for id, p := range st.Positions {
		m.detached[id] = p
	}
	m.mu.Unlock()

	report.TornDown = append(report.TornDown, st.Direction)
	metrics.TeardownsTotal.WithLabelValues(string(st.Direction), reason).Inc()
	metrics.SetGridActive(string(st.Direction), false)
	logger.Infof("[Grid] 🧹 %s grid %s torn down (%s), %d position(s) left to their brackets",
		st.Direction, st.ID, reason, len(st.Positions))
	m.recordEvent(st, store.EventTeardown, "", 0, st.FilledSize(), reason)
	m.closeInstance(st, reason)
	return nil
}

// ============================================================================
// Open
// ============================================================================

// openGrid sizes and submits a new ladder. Rejected rungs are skipped; a
// connection failure stops submission without committing a grid.
func (m *GridManager) openGrid(ctx context.Context, dir kernel.Direction, basePrice, atr float64, report *CycleReport) error {
	balance, err := m.gateway.AccountBalance(ctx)
	if err != nil {
		return m.abort("account balance", err)
	}

	plan, err := m.sizer.Plan(kernel.PlanInput{
		Direction:        dir,
		BasePrice:        basePrice,
		ATR:              atr,
		AvailableCapital: balance,
		MaxRungs:         m.grid.MaxRungs,
		RungStep:         m.grid.RungStep,
		LotSize:          m.grid.LotSize,
	})
	if err != nil {
		return err
	}
	if plan.Empty() {
		report.Skipped = fmt.Sprintf("balance %.2f affords no %s rung at $%.2f", balance, dir, basePrice)
		logger.Infof("[Grid] 📭 %s", report.Skipped)
		return nil
	}

	st := NewGridState(dir, nowFunc())
	st.Baseline = m.exposureOf(dir)
	logger.Infof("[Grid] Opening %s grid %s: %d rung(s) from $%.2f, atr=%.4f, balance=%.2f",
		dir, st.ID, plan.RungCount, basePrice, atr, balance)

	rungs := make([]*store.GridRungModel, 0, len(plan.Rungs))
	for _, rung := range plan.Rungs {
		req := &types.SubmitPendingRequest{
			Symbol:     m.symbol,
			Direction:  dir,
			Price:      rung.Price,
			Size:       rung.Size,
			StopLoss:   rung.StopLoss,
			TakeProfit: rung.TakeProfit,
			ClientID:   gridClientID(m.grid.ClientIDPrefix, dir, rung.Index, st.ID),
		}
		rungModel := &store.GridRungModel{
			InstanceID: st.ID,
			RungIndex:  rung.Index,
			ClientID:   req.ClientID,
			Direction:  string(dir),
			Price:      rung.Price,
			StopLoss:   rung.StopLoss,
			TakeProfit: rung.TakeProfit,
			Size:       rung.Size,
		}

		if err := req.Validate(); err != nil {
			m.rejectRung(st, req, rungModel, err, report)
			continue
		}

		res, err := m.gateway.SubmitPending(ctx, req)
		if err != nil && types.IsConnectionError(err) {
			metrics.OrdersSubmittedTotal.WithLabelValues(string(dir), "error").Inc()
			return m.abort(fmt.Sprintf("submit rung %d", rung.Index), err)
		}
		if err != nil {
			m.rejectRung(st, req, rungModel, err, report)
			continue
		}
		if res == nil {
			metrics.OrdersSubmittedTotal.WithLabelValues(string(dir), "error").Inc()
			return m.abort(fmt.Sprintf("submit rung %d", rung.Index), errNilResponse)
		}

		st.Orders[res.OrderID] = &TrackedOrder{
			OrderID:     res.OrderID,
			ClientID:    req.ClientID,
			RungIndex:   rung.Index,
			Price:       rung.Price,
			Size:        rung.Size,
			StopLoss:    rung.StopLoss,
			TakeProfit:  rung.TakeProfit,
			SubmittedAt: nowFunc(),
		}
		rungModel.OrderID = res.OrderID
		rungModel.Status = store.RungStatusPending
		rungs = append(rungs, rungModel)
		report.Submitted++
		metrics.OrdersSubmittedTotal.WithLabelValues(string(dir), "accepted").Inc()
		logger.Infof("[Grid] Placed %s limit order at $%.2f, qty=%.4f, sl=%.2f, tp=%.2f, rung=%d, orderID=%s",
			dir, rung.Price, rung.Size, rung.StopLoss, rung.TakeProfit, rung.Index, res.OrderID)
	}

	if len(st.Orders) == 0 {
		report.Skipped = fmt.Sprintf("all %d %s rung(s) rejected", len(plan.Rungs), dir)
		logger.Warnf("[Grid] ⚠️ %s", report.Skipped)
		return nil
	}

	m.mu.Lock()
	m.states[dir] = st
	m.mu.Unlock()

	report.OpenedGridID = st.ID
	metrics.SetGridActive(string(dir), true)
	m.recordInstance(st, plan.BasePrice, plan.ATR)
	for _, r := range rungs {
		m.saveRung(r)
	}
	m.recordEvent(st, store.EventSubmit, "", basePrice, float64(len(st.Orders)), fmt.Sprintf("%d/%d rungs accepted", len(st.Orders), len(plan.Rungs)))
	return nil
}

func (m *GridManager) rejectRung(st *GridState, req *types.SubmitPendingRequest, rungModel *store.GridRungModel, cause error, report *CycleReport) {
	report.Rejected++
	metrics.OrdersSubmittedTotal.WithLabelValues(string(st.Direction), "rejected").Inc()

	payload, _ := json.Marshal(req)
	logger.WithFields(map[string]interface{}{
		"rung":    rungModel.RungIndex,
		"payload": string(payload),
		"reason":  cause.Error(),
	}).Warnf("[Grid] ❌ %s rung rejected", st.Direction)

	rungModel.Status = store.RungStatusRejected
	rungModel.Reason = cause.Error()
	m.saveRung(rungModel)
	m.recordRawEvent(st, store.EventReject, "", req.Price, req.Size, cause.Error(), string(payload))
}

// cancelRejected logs a cancel the venue refused with its payload and
// reason. st is nil for a stray order.
func (m *GridManager) cancelRejected(st *GridState, req *types.CancelRequest, cause error) {
	payload, _ := json.Marshal(req)
	logger.WithFields(map[string]interface{}{
		"payload": string(payload),
		"reason":  cause.Error(),
	}).Warnf("[Grid] ⚠️ cancel of order %s rejected", req.OrderID)
	if st != nil {
		m.recordRawEvent(st, store.EventCancel, req.OrderID, 0, 0, "rejected: "+cause.Error(), string(payload))
	}
}

// ============================================================================
// Helpers
// ============================================================================

func (m *GridManager) state(direction kernel.Direction) *GridState {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.states[direction]
}

func (m *GridManager) exposureOf(direction kernel.Direction) float64 {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.exposure[direction]
}

func (m *GridManager) tracks(orderID string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, st := range m.states {
		if _, ok := st.Orders[orderID]; ok {
			return true
		}
	}
	return false
}

func (m *GridManager) abort(step string, cause error) error {
	if errors.Is(cause, ErrCycleAborted) {
		return cause
	}
	logger.Errorf("[Grid] ❌ cycle aborted at %s: %v", step, cause)
	if m.journal != nil {
		if err := m.journal.SaveGridEvent(&store.GridEventModel{
			EventType: store.EventAbort,
			EventTime: nowFunc(),
			Message:   fmt.Sprintf("%s: %v", step, cause),
		}); err != nil {
			logger.Warnf("[Grid] journal: failed to save abort event: %v", err)
		}
	}
	return fmt.Errorf("%w: %s: %w", ErrCycleAborted, step, cause)
}

func (m *GridManager) recordInstance(st *GridState, basePrice, atr float64) {
	if m.journal == nil {
		return
	}
	err := m.journal.SaveGridInstance(&store.GridInstanceModel{
		ID:        st.ID,
		Symbol:    m.symbol,
		Direction: string(st.Direction),
		State:     store.GridStateActive,
		RungCount: len(st.Orders),
		BasePrice: basePrice,
		ATR:       atr,
		Recovered: st.Recovered,
		StartedAt: st.CreatedAt,
	})
	if err != nil {
		logger.Warnf("[Grid] journal: failed to save grid %s: %v", st.ID, err)
	}
}

func (m *GridManager) closeInstance(st *GridState, reason string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.CloseGridInstance(st.ID, reason, nowFunc()); err != nil {
		logger.Warnf("[Grid] journal: failed to close grid %s: %v", st.ID, err)
	}
}

func (m *GridManager) saveRung(r *store.GridRungModel) {
	if m.journal == nil {
		return
	}
	if err := m.journal.SaveGridRung(r); err != nil {
		logger.Warnf("[Grid] journal: failed to save rung %d: %v", r.RungIndex, err)
	}
}

func (m *GridManager) recordRungStatus(orderID, status, reason string) {
	if m.journal == nil {
		return
	}
	if err := m.journal.UpdateRungStatus(orderID, status, reason); err != nil {
		logger.Warnf("[Grid] journal: failed to update rung %s: %v", orderID, err)
	}
}

func (m *GridManager) recordEvent(st *GridState, eventType, orderID string, price, qty float64, msg string) {
	m.recordRawEvent(st, eventType, orderID, price, qty, msg, "")
}

func (m *GridManager) recordRawEvent(st *GridState, eventType, orderID string, price, qty float64, msg, raw string) {
	if m.journal == nil {
		return
	}
	err := m.journal.SaveGridEvent(&store.GridEventModel{
		InstanceID: st.ID,
		EventType:  eventType,
		EventTime:  nowFunc(),
		Direction:  string(st.Direction),
		OrderID:    orderID,
		Price:      price,
		Quantity:   qty,
		Message:    msg,
		RawData:    raw,
	})
	if err != nil {
		logger.Warnf("[Grid] journal: failed to save %s event: %v", eventType, err)
	}
}
