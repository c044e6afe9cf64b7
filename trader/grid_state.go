package trader

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"gridbot/kernel"
)

// ============================================================================
// Grid State
// ============================================================================

// GridPhase lifecycle phase of a grid. Idle grids are not kept in memory.
type GridPhase string

const (
	PhaseIdle        GridPhase = "idle"
	PhaseGridActive  GridPhase = "grid_active"
	PhaseTearingDown GridPhase = "tearing_down"
)

// TrackedOrder a pending rung owned by a grid
type TrackedOrder struct {
	OrderID     string    `json:"order_id"`
	ClientID    string    `json:"client_id"`
	RungIndex   int       `json:"rung_index"`
	Price       float64   `json:"price"`
	Size        float64   `json:"size"`
	StopLoss    float64   `json:"stop_loss,omitempty"`
	TakeProfit  float64   `json:"take_profit,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// TrackedPosition a filled rung. OrderID is the order that opened it and
// PositionID the venue position it was merged into. Inferred positions were
// matched by the growth of an aggregated venue position, not by source order.
type TrackedPosition struct {
	OrderID    string    `json:"order_id"`
	ClientID   string    `json:"client_id,omitempty"`
	PositionID string    `json:"position_id"`
	EntryPrice float64   `json:"entry_price"`
	Size       float64   `json:"size"`
	Inferred   bool      `json:"inferred,omitempty"`
	FilledAt   time.Time `json:"filled_at"`
}

// GridState holds the runtime state of the grid for one direction
type GridState struct {
	ID        string
	Direction kernel.Direction
	Phase     GridPhase
	Recovered bool
	CreatedAt time.Time

	// Baseline is the unattributed venue exposure in this direction that
	// the grid does not own, e.g. positions left by a torn-down grid
	Baseline float64

	// Order tracking
	Orders    map[string]*TrackedOrder    // OrderID -> order
	Positions map[string]*TrackedPosition // OrderID -> position
}

// NewGridState creates a new grid state
func NewGridState(direction kernel.Direction, createdAt time.Time) *GridState {
	return &GridState{
		ID:        uuid.NewString(),
		Direction: direction,
		Phase:     PhaseGridActive,
		CreatedAt: createdAt,
		Orders:    make(map[string]*TrackedOrder),
		Positions: make(map[string]*TrackedPosition),
	}
}

// Empty reports whether the grid owns nothing on the venue
func (g *GridState) Empty() bool {
	return len(g.Orders) == 0 && len(g.Positions) == 0
}

// FilledSize total size of tracked positions
func (g *GridState) FilledSize() float64 {
	total := 0.0
	for _, p := range g.Positions {
		total += p.Size
	}
	return total
}

// inferredSize total size of positions matched by exposure growth
func (g *GridState) inferredSize() float64 {
	total := 0.0
	for _, p := range g.Positions {
		if p.Inferred {
			total += p.Size
		}
	}
	return total
}

// sortedOrders returns orders in ladder order
func (g *GridState) sortedOrders() []*TrackedOrder {
	out := make([]*TrackedOrder, 0, len(g.Orders))
	for _, o := range g.Orders {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RungIndex != out[j].RungIndex {
			return out[i].RungIndex < out[j].RungIndex
		}
		return out[i].OrderID < out[j].OrderID
	})
	return out
}

// GridStateView read-only copy of a grid for the status API
type GridStateView struct {
	ID          string            `json:"id"`
	Direction   kernel.Direction  `json:"direction"`
	Phase       GridPhase         `json:"phase"`
	Recovered   bool              `json:"recovered"`
	CreatedAt   time.Time         `json:"created_at"`
	Orders      []TrackedOrder    `json:"orders"`
	Positions   []TrackedPosition `json:"positions"`
	FilledSize  float64           `json:"filled_size"`
	PendingSize float64           `json:"pending_size"`
	Baseline    float64           `json:"baseline,omitempty"`
}

func (g *GridState) view() GridStateView {
	v := GridStateView{
		ID:         g.ID,
		Direction:  g.Direction,
		Phase:      g.Phase,
		Recovered:  g.Recovered,
		CreatedAt:  g.CreatedAt,
		Orders:     make([]TrackedOrder, 0, len(g.Orders)),
		Positions:  make([]TrackedPosition, 0, len(g.Positions)),
		FilledSize: g.FilledSize(),
		Baseline:   g.Baseline,
	}
	for _, o := range g.sortedOrders() {
		v.Orders = append(v.Orders, *o)
		v.PendingSize += o.Size
	}
	for _, p := range g.Positions {
		v.Positions = append(v.Positions, *p)
	}
	sort.Slice(v.Positions, func(i, j int) bool { return v.Positions[i].OrderID < v.Positions[j].OrderID })
	return v
}

// ============================================================================
// Client IDs
// ============================================================================

// gridClientID tags a rung as prefix-direction-index-grid, e.g.
// grid-buy-3-1f0c9a2e. It stays well below the 36 character venue limit
// even with the -sl/-tp bracket suffix.
func gridClientID(prefix string, direction kernel.Direction, index int, gridID string) string {
	short := strings.ReplaceAll(gridID, "-", "")
	if len(short) > 8 {
		short = short[:8]
	}
	return fmt.Sprintf("%s-%s-%d-%s", prefix, direction, index, short)
}

// parseGridClientID extracts direction and rung index from a tagged client ID
func parseGridClientID(prefix, clientID string) (kernel.Direction, int, bool) {
	rest, ok := strings.CutPrefix(clientID, prefix+"-")
	if !ok {
		return kernel.DirectionNone, 0, false
	}
	parts := strings.Split(rest, "-")
	if len(parts) != 3 {
		return kernel.DirectionNone, 0, false
	}
	direction := kernel.Direction(parts[0])
	if !direction.Valid() {
		return kernel.DirectionNone, 0, false
	}
	index, err := strconv.Atoi(parts[1])
	if err != nil {
		return kernel.DirectionNone, 0, false
	}
	return direction, index, true
}
