// Package fees computes transaction fees in either a fixed or a dynamic
// mode. Dynamic fees scale a per-byte base rate by the transaction's
// priority and clamp the result into a configured band.
package fees

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/archlabs/blockchain/foundation/blockchain/currency"
	"github.com/archlabs/blockchain/foundation/blockchain/database"
	"github.com/go-playground/validator/v10"
)

// ReferenceSize is the transaction size in bytes used for fee estimates.
const ReferenceSize = 250

// Mode names accepted in the options record.
const (
	ModeFixed   = "fixed"
	ModeDynamic = "dynamic"
)

// configKey is where the options record lives in the store's config bucket.
const configKey = "fees"

// ErrInvalidPriority is returned for an unknown priority name.
var ErrInvalidPriority = errors.New("invalid priority: use low, normal, high or urgent")

// Priority is the urgency class of a transaction. Its numeric value is the
// multiplier applied to the base rate in dynamic mode.
type Priority uint8

// The supported priorities.
const (
	Low    Priority = 1
	Normal Priority = 2
	High   Priority = 4
	Urgent Priority = 8
)

// ParsePriority maps a priority name to its value.
func ParsePriority(name string) (Priority, error) {
	switch strings.ToLower(name) {
	case "low":
		return Low, nil
	case "normal":
		return Normal, nil
	case "high":
		return High, nil
	case "urgent":
		return Urgent, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrInvalidPriority, name)
}

// String returns the priority's name.
func (p Priority) String() string {
	switch p {
	case Low:
		return "low"
	case Normal:
		return "normal"
	case High:
		return "high"
	case Urgent:
		return "urgent"
	}
	return fmt.Sprintf("priority(%d)", uint8(p))
}

// Priorities lists every priority from cheapest to most urgent.
func Priorities() []Priority {
	return []Priority{Low, Normal, High, Urgent}
}

// =============================================================================

// Options is the static configuration record for the engine.
type Options struct {
	Mode     string           `json:"mode" validate:"oneof=fixed dynamic"`
	Amount   currency.Satoshi `json:"amount"`
	BaseRate currency.Satoshi `json:"base_rate" validate:"gte=1"`
	MinFee   currency.Satoshi `json:"min_fee" validate:"gte=0"`
	MaxFee   currency.Satoshi `json:"max_fee" validate:"gtefield=MinFee"`
	Enabled  bool             `json:"enabled"`
}

// DefaultOptions is the configuration a fresh node starts with.
func DefaultOptions() Options {
	return Options{
		Mode:     ModeFixed,
		Amount:   1,
		BaseRate: 1,
		MinFee:   1,
		MaxFee:   10_000,
		Enabled:  true,
	}
}

// Validate checks the options record for internal consistency.
func (o Options) Validate() error {
	if err := validate.Struct(o); err != nil {
		return fmt.Errorf("fee options: %w", err)
	}
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// =============================================================================

// Status reports the engine's mode and its estimates at the reference size.
type Status struct {
	Mode      string                      `json:"mode"`
	Enabled   bool                        `json:"enabled"`
	Estimates map[string]currency.Satoshi `json:"estimates"`
}

// Engine computes fees under the currently configured mode. Mode switches
// are persisted so separate command invocations observe them.
type Engine struct {
	mu      sync.RWMutex
	opts    Options
	storage database.Storage
}

// New loads the persisted options from storage, falling back to defaults on
// a fresh node.
func New(storage database.Storage) (*Engine, error) {
	opts := DefaultOptions()

	data, err := storage.Config(configKey)
	switch {
	case errors.Is(err, database.ErrNotFound):
	case err != nil:
		return nil, fmt.Errorf("loading fee options: %w", err)
	default:
		if err := json.Unmarshal(data, &opts); err != nil {
			return nil, fmt.Errorf("decoding fee options: %w", err)
		}
	}

	if err := opts.Validate(); err != nil {
		return nil, err
	}

	return &Engine{opts: opts, storage: storage}, nil
}

// Calculate returns the fee for a transaction of the given size.
func (e *Engine) Calculate(sizeBytes int, priority Priority) currency.Satoshi {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.opts.Mode == ModeFixed || !e.opts.Enabled {
		return e.opts.Amount
	}

	fee := e.opts.BaseRate * currency.Satoshi(priority) * currency.Satoshi(sizeBytes)
	if fee < e.opts.MinFee {
		fee = e.opts.MinFee
	}
	if fee > e.opts.MaxFee {
		fee = e.opts.MaxFee
	}
	return fee
}

// Estimate returns the fee for a reference sized transaction.
func (e *Engine) Estimate(priority Priority) currency.Satoshi {
	return e.Calculate(ReferenceSize, priority)
}

// Status reports the current mode with estimates for every priority.
func (e *Engine) Status() Status {
	e.mu.RLock()
	mode := e.opts.Mode
	enabled := e.opts.Enabled
	e.mu.RUnlock()

	estimates := make(map[string]currency.Satoshi, 4)
	for _, p := range Priorities() {
		estimates[p.String()] = e.Estimate(p)
	}

	return Status{Mode: mode, Enabled: enabled, Estimates: estimates}
}

// Options returns a copy of the current configuration.
func (e *Engine) Options() Options {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.opts
}

// SetFixed switches to fixed mode with the given amount and persists it.
func (e *Engine) SetFixed(amount currency.Satoshi) error {
	opts := e.Options()
	opts.Mode = ModeFixed
	opts.Amount = amount
	return e.apply(opts)
}

// SetDynamic switches to dynamic mode and persists it.
func (e *Engine) SetDynamic() error {
	opts := e.Options()
	opts.Mode = ModeDynamic
	opts.Enabled = true
	return e.apply(opts)
}

// apply validates, persists, then installs the new options.
func (e *Engine) apply(opts Options) error {
	if err := opts.Validate(); err != nil {
		return err
	}

	data, err := json.Marshal(opts)
	if err != nil {
		return err
	}
	if err := e.storage.PutConfig(configKey, data); err != nil {
		return fmt.Errorf("persisting fee options: %w", err)
	}

	e.mu.Lock()
	e.opts = opts
	e.mu.Unlock()

	return nil
}
