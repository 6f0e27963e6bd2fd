package interest

import (
	"fmt"
	"math/big"
)

const (
	// SecondsPerYear converts per-second rates into annual rates.
	SecondsPerYear = 365 * 24 * 60 * 60
	// DefaultDecayWindow is the time constant of the borrow volume decay.
	DefaultDecayWindow = 24 * 60 * 60
)

// WAD is the fixed-point scale of rates and ratios.
var WAD = big.NewInt(1_000_000_000_000_000_000)

// State is the per-pool borrow pressure tracker. The owning pool passes it by
// pointer; the model never keeps a reference.
type State struct {
	// Accumulator holds recent borrow volume in wei as of LastUpdate.
	Accumulator *big.Int
	// LastUpdate is the unix time the accumulator was last decayed.
	LastUpdate uint64
}

// NewState returns an empty state anchored at now.
func NewState(now uint64) *State {
	return &State{Accumulator: big.NewInt(0), LastUpdate: now}
}

// Clone returns a deep copy of the state.
func (s *State) Clone() *State {
	if s == nil {
		return nil
	}
	clone := &State{LastUpdate: s.LastUpdate, Accumulator: big.NewInt(0)}
	if s.Accumulator != nil {
		clone.Accumulator.Set(s.Accumulator)
	}
	return clone
}

// Model turns pool state into a borrow rate. Rates are interest per wei of
// principal per second, scaled by WAD.
//
// The variable part grows linearly with decayed recent volume plus half of the
// prospective borrow, so a loan is priced at the midpoint of the pressure it
// creates. It saturates at MaxVariable once volume reaches MaxDailyVolume.
type Model struct {
	MinimumRate    *big.Int
	MaxVariable    *big.Int
	MaxDailyVolume *big.Int
	// DecayWindow is W in acc*W/(W+elapsed), in seconds.
	DecayWindow uint64
}

// Validate checks the model parameters.
func (m Model) Validate() error {
	if m.MinimumRate == nil || m.MinimumRate.Sign() < 0 {
		return fmt.Errorf("minimum rate must be non-negative")
	}
	if m.MaxVariable == nil || m.MaxVariable.Sign() < 0 {
		return fmt.Errorf("max variable rate must be non-negative")
	}
	if m.MaxDailyVolume == nil || m.MaxDailyVolume.Sign() <= 0 {
		return fmt.Errorf("max daily volume must be positive")
	}
	if m.DecayWindow == 0 {
		return fmt.Errorf("decay window must be positive")
	}
	return nil
}

// Decay returns accumulator*W/(W+elapsed). It equals accumulator at zero
// elapsed time, shrinks strictly afterwards and tends to zero.
func (m Model) Decay(accumulator *big.Int, elapsed uint64) *big.Int {
	if accumulator == nil || accumulator.Sign() == 0 {
		return big.NewInt(0)
	}
	if elapsed == 0 {
		return new(big.Int).Set(accumulator)
	}
	window := new(big.Int).SetUint64(m.DecayWindow)
	denom := new(big.Int).Add(window, new(big.Int).SetUint64(elapsed))
	out := new(big.Int).Mul(accumulator, window)
	return out.Quo(out, denom)
}

// Decayed returns the state's accumulator decayed to now.
func (m Model) Decayed(state *State, now uint64) *big.Int {
	if state == nil {
		return big.NewInt(0)
	}
	var elapsed uint64
	if now > state.LastUpdate {
		elapsed = now - state.LastUpdate
	}
	return m.Decay(state.Accumulator, elapsed)
}

// Variable returns the variable per-second rate for the given pressure.
func (m Model) Variable(decayed, extra *big.Int) *big.Int {
	if m.MaxVariable == nil || m.MaxDailyVolume == nil || m.MaxDailyVolume.Sign() <= 0 {
		return big.NewInt(0)
	}
	pressure := new(big.Int)
	if decayed != nil {
		pressure.Add(pressure, decayed)
	}
	if extra != nil && extra.Sign() > 0 {
		pressure.Add(pressure, new(big.Int).Rsh(extra, 1))
	}
	if pressure.Cmp(m.MaxDailyVolume) > 0 {
		pressure.Set(m.MaxDailyVolume)
	}
	out := new(big.Int).Mul(m.MaxVariable, pressure)
	return out.Quo(out, m.MaxDailyVolume)
}

// RatePerSecond is the rate a borrow of extra wei would lock in at now.
func (m Model) RatePerSecond(state *State, extra *big.Int, now uint64) *big.Int {
	rate := new(big.Int)
	if m.MinimumRate != nil {
		rate.Set(m.MinimumRate)
	}
	return rate.Add(rate, m.Variable(m.Decayed(state, now), extra))
}

// AnnualRate is RatePerSecond scaled to a 365 day year.
func (m Model) AnnualRate(state *State, extra *big.Int, now uint64) *big.Int {
	rate := m.RatePerSecond(state, extra, now)
	return rate.Mul(rate, big.NewInt(SecondsPerYear))
}

// Record decays the accumulator to now and adds principal.
func (m Model) Record(state *State, principal *big.Int, now uint64) {
	if state == nil {
		return
	}
	decayed := m.Decayed(state, now)
	if principal != nil {
		decayed.Add(decayed, principal)
	}
	state.Accumulator = decayed
	if now > state.LastUpdate {
		state.LastUpdate = now
	}
}

// Repayment is principal + principal*rate*elapsed/WAD, rounded down.
func Repayment(principal, rate *big.Int, elapsed uint64) *big.Int {
	if principal == nil {
		return big.NewInt(0)
	}
	total := new(big.Int).Set(principal)
	if rate == nil || rate.Sign() == 0 || elapsed == 0 {
		return total
	}
	accrued := new(big.Int).Mul(principal, rate)
	accrued.Mul(accrued, new(big.Int).SetUint64(elapsed))
	accrued.Quo(accrued, WAD)
	return total.Add(total, accrued)
}
