package cart

import (
	"errors"
	"time"
)

var (
	ErrSoldOut       = errors.New("artwork is sold out")
	ErrAlreadyInCart = errors.New("artwork already in cart")
	ErrItemNotFound  = errors.New("item not found in cart")
)

// NoticeTTL is how long a transient notice stays visible.
const NoticeTTL = 3 * time.Second

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelInfo    Level = "info"
)

// Notice is an advisory, auto-dismissed message for the shopper.
type Notice struct {
	Level   Level  `json:"level"`
	Message string `json:"message"`
}

// UI receives the presentation side effects of store operations. Calls are
// made after the state change is committed, in commit order.
type UI interface {
	RefreshCounters(itemCount int)
	Notify(n Notice)
	OpenDrawer()
	CloseDrawer()
}

type NopUI struct{}

func (NopUI) RefreshCounters(int) {}
func (NopUI) Notify(Notice)       {}
func (NopUI) OpenDrawer()         {}
func (NopUI) CloseDrawer()        {}

// Observer is told the outcome of every operation, for metrics.
type Observer interface {
	Mutation(op, result string)
	ExternalSync()
}

type nopObserver struct{}

func (nopObserver) Mutation(string, string) {}
func (nopObserver) ExternalSync()           {}

const (
	OpAdd         = "add"
	OpRemove      = "remove"
	OpSetQuantity = "set_quantity"
	OpClear       = "clear"

	ResultOK            = "ok"
	ResultSoldOut       = "sold_out"
	ResultAlreadyInCart = "already_in_cart"
	ResultNotFound      = "not_found"
	ResultError         = "error"
)
