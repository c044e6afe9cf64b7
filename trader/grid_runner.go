package trader

import (
	"context"
	"errors"
	"math"
	"sync"
	"time"

	"gridbot/config"
	"gridbot/kernel"
	"gridbot/logger"
	"gridbot/market"
	"gridbot/metrics"
	"gridbot/store"
)

// Evaluator turns a price window into a signal and the indicators behind it
type Evaluator interface {
	Evaluate(window []market.PriceBar) (kernel.TradeSignal, *kernel.IndicatorSnapshot, error)
}

// GridRunner 网格策略轮询器
// 每个周期拉取K线、评估信号并驱动 GridManager，周期之间不会重叠
type GridRunner struct {
	source    market.PriceSource
	evaluator Evaluator
	manager   *GridManager
	journal   Journal

	symbol    string
	timeframe string
	barCount  int
	interval  time.Duration

	stopCh chan struct{}
	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewGridRunner 创建网格轮询器
func NewGridRunner(source market.PriceSource, evaluator Evaluator, manager *GridManager, cfg *config.Config) *GridRunner {
	interval := cfg.PollInterval()
	if interval == 0 {
		interval = 10 * time.Second
	}
	return &GridRunner{
		source:    source,
		evaluator: evaluator,
		manager:   manager,
		symbol:    cfg.Market.Symbol,
		timeframe: cfg.Market.Timeframe,
		barCount:  cfg.Market.BarCount,
		interval:  interval,
		stopCh:    make(chan struct{}),
	}
}

// SetJournal attaches the journal used for signal assessments
func (r *GridRunner) SetJournal(j Journal) {
	r.journal = j
}

// Start 启动轮询
func (r *GridRunner) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.wg.Add(1)
	go r.run(ctx)
	logger.Infof("[Runner] 📈 grid runner started: %s %s every %s", r.symbol, r.timeframe, r.interval)
}

// Stop 停止轮询，等待当前周期结束
// 进行中的提交轮次不会被中断，context 在周期结束后才取消
func (r *GridRunner) Stop() {
	close(r.stopCh)
	r.wg.Wait()
	if r.cancel != nil {
		r.cancel()
	}
	logger.Info("[Runner] grid runner stopped")
}

// run 主循环
func (r *GridRunner) run(ctx context.Context) {
	defer r.wg.Done()

	// 启动时立即执行一次
	r.RunOnce(ctx)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			r.RunOnce(ctx)
		}
	}
}

// RunOnce runs one pass: fetch, evaluate, trace, journal and act. It returns
// the metrics outcome of the pass.
func (r *GridRunner) RunOnce(ctx context.Context) string {
	outcome := r.runOnce(ctx)
	metrics.CyclesTotal.WithLabelValues(outcome).Inc()
	return outcome
}

func (r *GridRunner) runOnce(ctx context.Context) string {
	bars, err := r.source.FetchHistory(ctx, r.symbol, r.timeframe, r.barCount)
	if err != nil {
		logger.Warnf("[Runner] ⚠️ failed to fetch %s history: %v", r.symbol, err)
		return metrics.OutcomeSourceError
	}

	sig, snap, err := r.evaluator.Evaluate(bars)
	if err != nil {
		var ide *market.InsufficientDataError
		if errors.As(err, &ide) {
			logger.Infof("[Runner] ⏳ skipping cycle: %v", err)
			return metrics.OutcomeInsufficient
		}
		logger.Errorf("[Runner] ❌ signal evaluation failed: %v", err)
		return metrics.OutcomeAborted
	}

	r.trace(sig, snap)
	r.recordAssessment(sig, snap)
	metrics.SignalsTotal.WithLabelValues(string(sig.Direction), string(sig.Regime)).Inc()
	metrics.DynamicATR.Set(snap.DynamicATR)

	report, err := r.manager.RunCycle(ctx, sig, snap.LastClose, snap.DynamicATR)
	if err != nil {
		logger.Errorf("[Runner] ❌ %v", err)
		return metrics.OutcomeAborted
	}

	if report.Submitted+report.Rejected+report.Cancelled+report.Filled+report.Expired+report.Recovered > 0 || len(report.TornDown) > 0 {
		logger.Infof("[Runner] cycle: submitted=%d rejected=%d cancelled=%d filled=%d expired=%d recovered=%d torn_down=%v",
			report.Submitted, report.Rejected, report.Cancelled, report.Filled, report.Expired, report.Recovered, report.TornDown)
	}
	return metrics.OutcomeCompleted
}

// trace prints the indicator values behind every decision
func (r *GridRunner) trace(sig kernel.TradeSignal, snap *kernel.IndicatorSnapshot) {
	fields := map[string]interface{}{
		"adx":         round4(snap.ADX),
		"rsi":         snap.RSI,
		"macd":        round4(snap.MACDMain),
		"macd_signal": round4(snap.MACDSignal),
		"prev_macd":   round4(snap.PrevMACDMain),
		"prev_signal": round4(snap.PrevMACDSig),
		"raw_atr":     round4(snap.RawATR),
		"atr":         round4(snap.DynamicATR),
		"close":       snap.LastClose,
	}
	if snap.Bollinger != nil {
		fields["bb_upper"] = round4(snap.Bollinger.Upper)
		fields["bb_lower"] = round4(snap.Bollinger.Lower)
	}
	logger.WithFields(fields).Infof("[Signal] %s %s -> %s", r.symbol, sig.Regime, sig.Direction)
}

func (r *GridRunner) recordAssessment(sig kernel.TradeSignal, snap *kernel.IndicatorSnapshot) {
	if r.journal == nil {
		return
	}
	assessment := &store.SignalAssessmentModel{
		Symbol:         r.symbol,
		AssessedAt:     nowFunc(),
		BarTime:        snap.BarTime,
		Direction:      string(sig.Direction),
		Regime:         string(sig.Regime),
		ADX:            snap.ADX,
		MACDMain:       snap.MACDMain,
		MACDSignal:     snap.MACDSignal,
		PrevMACDMain:   snap.PrevMACDMain,
		PrevMACDSignal: snap.PrevMACDSig,
		RSI:            snap.LatestRSI(),
		RawATR:         snap.RawATR,
		DynamicATR:     snap.DynamicATR,
		LastClose:      snap.LastClose,
	}
	if snap.Bollinger != nil {
		assessment.BBUpper = snap.Bollinger.Upper
		assessment.BBMiddle = snap.Bollinger.Middle
		assessment.BBLower = snap.Bollinger.Lower
	}
	if err := r.journal.SaveSignalAssessment(assessment); err != nil {
		logger.Warnf("[Runner] journal: failed to save signal assessment: %v", err)
	}
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
