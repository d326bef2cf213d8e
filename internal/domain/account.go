package domain

import "time"

// AccountRole distinguishes the operator's own account from accounts traded
// on behalf of delegated users.
type AccountRole string

const (
	RoleMaster    AccountRole = "master"
	RoleDelegated AccountRole = "delegated_user"
)

// CircuitState is the circuit-breaker state of one account.
type CircuitState string

const (
	CircuitOK     CircuitState = "ok"
	CircuitHalted CircuitState = "halted"
)

// AccountStatus is a point-in-time snapshot of one account's operational
// state, published on the status surface and consumed by the WebSocket hub.
type AccountStatus struct {
	Account       string       `json:"account"`
	Role          AccountRole  `json:"role"`
	Broker        string       `json:"broker"`
	State         CircuitState `json:"state"`
	HaltReason    string       `json:"halt_reason,omitempty"`
	Balance       float64      `json:"balance"`
	OpenPositions int          `json:"open_positions"`
	CyclesRun     int64        `json:"cycles_run"`
	LastCycleAt   time.Time    `json:"last_cycle_at"`
	LastError     string       `json:"last_error,omitempty"`
}
