package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Grid instance states
const (
	GridStateActive = "active"
	GridStateClosed = "closed"
)

// Rung statuses
const (
	RungStatusPending  = "pending"
	RungStatusFilled   = "filled"
	RungStatusExpired  = "expired"
	RungStatusCanceled = "canceled"
	RungStatusRejected = "rejected"
)

// Event types
const (
	EventSubmit   = "submit"
	EventReject   = "reject"
	EventFill     = "fill"
	EventExpire   = "expire"
	EventCancel   = "cancel"
	EventClose    = "close"
	EventTeardown = "teardown"
	EventRecover  = "recover"
	EventAbort    = "abort"
)

// ============================================================================
// Models
// ============================================================================

// GridInstanceModel one row per grid state
type GridInstanceModel struct {
	ID          string     `json:"id" gorm:"primaryKey"`
	Symbol      string     `json:"symbol" gorm:"index;not null"`
	Direction   string     `json:"direction" gorm:"not null"`
	State       string     `json:"state" gorm:"not null"`
	RungCount   int        `json:"rung_count"`
	BasePrice   float64    `json:"base_price"`
	ATR         float64    `json:"atr"`
	Recovered   bool       `json:"recovered" gorm:"default:false"`
	CloseReason string     `json:"close_reason,omitempty"`
	StartedAt   time.Time  `json:"started_at"`
	StoppedAt   *time.Time `json:"stopped_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at" gorm:"autoUpdateTime"`
}

func (GridInstanceModel) TableName() string {
	return "grid_instances"
}

// GridRungModel one row per submitted rung
type GridRungModel struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	InstanceID string    `json:"instance_id" gorm:"index"`
	RungIndex  int       `json:"rung_index"`
	OrderID    string    `json:"order_id" gorm:"index"`
	ClientID   string    `json:"client_id"`
	Direction  string    `json:"direction"`
	Price      float64   `json:"price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	Size       float64   `json:"size"`
	Status     string    `json:"status" gorm:"not null"`
	Reason     string    `json:"reason,omitempty"`
	CreatedAt  time.Time `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt  time.Time `json:"updated_at" gorm:"autoUpdateTime"`
}

func (GridRungModel) TableName() string {
	return "grid_rungs"
}

// GridEventModel audit trail of every grid decision
type GridEventModel struct {
	ID         string    `json:"id" gorm:"primaryKey"`
	InstanceID string    `json:"instance_id,omitempty" gorm:"index"`
	EventType  string    `json:"event_type" gorm:"index;not null"`
	EventTime  time.Time `json:"event_time"`
	Direction  string    `json:"direction,omitempty"`
	OrderID    string    `json:"order_id,omitempty"`
	Price      float64   `json:"price,omitempty"`
	Quantity   float64   `json:"quantity,omitempty"`
	Message    string    `json:"message,omitempty"`
	RawData    string    `json:"raw_data,omitempty" gorm:"type:text"`
}

func (GridEventModel) TableName() string {
	return "grid_events"
}

// SignalAssessmentModel indicator snapshot of one evaluation pass
type SignalAssessmentModel struct {
	ID             string    `json:"id" gorm:"primaryKey"`
	Symbol         string    `json:"symbol" gorm:"index"`
	AssessedAt     time.Time `json:"assessed_at"`
	BarTime        time.Time `json:"bar_time"`
	Direction      string    `json:"direction"`
	Regime         string    `json:"regime"`
	ADX            float64   `json:"adx"`
	MACDMain       float64   `json:"macd_main"`
	MACDSignal     float64   `json:"macd_signal"`
	PrevMACDMain   float64   `json:"prev_macd_main"`
	PrevMACDSignal float64   `json:"prev_macd_signal"`
	RSI            float64   `json:"rsi"`
	RawATR         float64   `json:"raw_atr"`
	DynamicATR     float64   `json:"dynamic_atr"`
	BBUpper        float64   `json:"bb_upper,omitempty"`
	BBMiddle       float64   `json:"bb_middle,omitempty"`
	BBLower        float64   `json:"bb_lower,omitempty"`
	LastClose      float64   `json:"last_close"`
}

func (SignalAssessmentModel) TableName() string {
	return "signal_assessments"
}

// ============================================================================
// GridStore
// ============================================================================

// GridStore persists grid instances, rungs, events and signal assessments
type GridStore struct {
	db *gorm.DB
}

// NewGridStore wraps an open gorm connection
func NewGridStore(db *gorm.DB) *GridStore {
	return &GridStore{db: db}
}

// InitTables creates or migrates the journal tables
func (s *GridStore) InitTables() error {
	if err := s.db.AutoMigrate(
		&GridInstanceModel{},
		&GridRungModel{},
		&GridEventModel{},
		&SignalAssessmentModel{},
	); err != nil {
		return fmt.Errorf("failed to migrate grid tables: %w", err)
	}
	return nil
}

// ==================== Instance Operations ====================

// SaveGridInstance inserts or updates an instance
func (s *GridStore) SaveGridInstance(instance *GridInstanceModel) error {
	if instance.ID == "" {
		instance.ID = uuid.NewString()
	}
	if instance.StartedAt.IsZero() {
		instance.StartedAt = time.Now()
	}
	if instance.State == "" {
		instance.State = GridStateActive
	}
	return s.db.Save(instance).Error
}

// CloseGridInstance marks an instance closed
func (s *GridStore) CloseGridInstance(id, reason string, stoppedAt time.Time) error {
	res := s.db.Model(&GridInstanceModel{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"state":        GridStateClosed,
			"close_reason": reason,
			"stopped_at":   stoppedAt,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("grid instance %s not found", id)
	}
	return nil
}

// LoadGridInstance loads an instance by ID
func (s *GridStore) LoadGridInstance(id string) (*GridInstanceModel, error) {
	var instance GridInstanceModel
	if err := s.db.Where("id = ?", id).First(&instance).Error; err != nil {
		return nil, err
	}
	return &instance, nil
}

// ==================== Rung Operations ====================

// SaveGridRung records a submitted or rejected rung
func (s *GridStore) SaveGridRung(rung *GridRungModel) error {
	if rung.ID == "" {
		rung.ID = uuid.NewString()
	}
	if rung.Status == "" {
		rung.Status = RungStatusPending
	}
	return s.db.Save(rung).Error
}

// UpdateRungStatus updates the status of the rung placed as orderID
func (s *GridStore) UpdateRungStatus(orderID, status, reason string) error {
	return s.db.Model(&GridRungModel{}).
		Where("order_id = ?", orderID).
		Updates(map[string]interface{}{"status": status, "reason": reason}).Error
}

// LoadGridRungs loads the rungs of an instance in ladder order
func (s *GridStore) LoadGridRungs(instanceID string) ([]GridRungModel, error) {
	var rungs []GridRungModel
	err := s.db.Where("instance_id = ?", instanceID).
		Order("rung_index ASC").
		Find(&rungs).Error
	if err != nil {
		return nil, err
	}
	return rungs, nil
}

// ==================== Event Operations ====================

// SaveGridEvent appends an event
func (s *GridStore) SaveGridEvent(event *GridEventModel) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	if event.EventTime.IsZero() {
		event.EventTime = time.Now()
	}
	return s.db.Create(event).Error
}

// LoadRecentGridEvents loads recent events, newest first. An empty
// instanceID returns events of every instance.
func (s *GridStore) LoadRecentGridEvents(instanceID string, limit int) ([]GridEventModel, error) {
	var events []GridEventModel
	query := s.db.Order("event_time DESC")
	if instanceID != "" {
		query = query.Where("instance_id = ?", instanceID)
	}
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := query.Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}

// CountGridEvents counts events for an instance
func (s *GridStore) CountGridEvents(instanceID string) (int64, error) {
	var count int64
	err := s.db.Model(&GridEventModel{}).
		Where("instance_id = ?", instanceID).
		Count(&count).Error
	return count, err
}

// ==================== Signal Operations ====================

// SaveSignalAssessment records the indicator snapshot of one pass
func (s *GridStore) SaveSignalAssessment(assessment *SignalAssessmentModel) error {
	if assessment.ID == "" {
		assessment.ID = uuid.NewString()
	}
	if assessment.AssessedAt.IsZero() {
		assessment.AssessedAt = time.Now()
	}
	return s.db.Create(assessment).Error
}

// LoadLatestSignalAssessment loads the most recent assessment for symbol
func (s *GridStore) LoadLatestSignalAssessment(symbol string) (*SignalAssessmentModel, error) {
	var assessment SignalAssessmentModel
	err := s.db.Where("symbol = ?", symbol).
		Order("assessed_at DESC").
		First(&assessment).Error
	if err != nil {
		return nil, err
	}
	return &assessment, nil
}

// ==================== Statistics Operations ====================

// GetGridInstanceStatistics returns statistics for an instance
func (s *GridStore) GetGridInstanceStatistics(instanceID string) (map[string]interface{}, error) {
	instance, err := s.LoadGridInstance(instanceID)
	if err != nil {
		return nil, err
	}

	var eventCounts []struct {
		EventType string
		Count     int64
	}
	if err := s.db.Model(&GridEventModel{}).
		Select("event_type, count(*) as count").
		Where("instance_id = ?", instanceID).
		Group("event_type").
		Find(&eventCounts).Error; err != nil {
		return nil, err
	}
	eventCountMap := make(map[string]int64)
	for _, ec := range eventCounts {
		eventCountMap[ec.EventType] = ec.Count
	}

	var rungCounts []struct {
		Status string
		Count  int64
	}
	if err := s.db.Model(&GridRungModel{}).
		Select("status, count(*) as count").
		Where("instance_id = ?", instanceID).
		Group("status").
		Find(&rungCounts).Error; err != nil {
		return nil, err
	}
	rungCountMap := make(map[string]int64)
	var filled, total int64
	for _, rc := range rungCounts {
		rungCountMap[rc.Status] = rc.Count
		total += rc.Count
		if rc.Status == RungStatusFilled {
			filled = rc.Count
		}
	}

	fillRate := 0.0
	if total > 0 {
		fillRate = float64(filled) / float64(total) * 100
	}

	return map[string]interface{}{
		"instance_id":  instance.ID,
		"symbol":       instance.Symbol,
		"direction":    instance.Direction,
		"state":        instance.State,
		"recovered":    instance.Recovered,
		"rung_count":   instance.RungCount,
		"started_at":   instance.StartedAt,
		"stopped_at":   instance.StoppedAt,
		"event_counts": eventCountMap,
		"rung_counts":  rungCountMap,
		"fill_rate":    fillRate,
	}, nil
}
