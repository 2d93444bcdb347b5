package domain

import "fmt"

// Engine identifies one of the backing ledger engines.
type Engine string

const (
	EngineMongo    Engine = "mongo"
	EngineMySQL    Engine = "mysql"
	EngineOracle   Engine = "oracle"
	EnginePostgres Engine = "postgres"
)

// Bank codes double as the leading digit of every account number.
var engineCodes = map[Engine]int64{
	EngineMongo:    1,
	EngineMySQL:    2,
	EngineOracle:   3,
	EnginePostgres: 4,
}

var codeEngines = map[int64]Engine{
	1: EngineMongo,
	2: EngineMySQL,
	3: EngineOracle,
	4: EnginePostgres,
}

// AllEngines returns every known engine in bank-code order.
func AllEngines() []Engine {
	return []Engine{EngineMongo, EngineMySQL, EngineOracle, EnginePostgres}
}

// ParseEngine validates a wire-level engine name.
func ParseEngine(s string) (Engine, error) {
	e := Engine(s)
	if _, ok := engineCodes[e]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownEngine, s)
	}
	return e, nil
}

// ParseEngines validates a list of engine names, rejecting duplicates.
func ParseEngines(names []string) ([]Engine, error) {
	seen := make(map[Engine]bool, len(names))
	out := make([]Engine, 0, len(names))
	for _, n := range names {
		e, err := ParseEngine(n)
		if err != nil {
			return nil, err
		}
		if seen[e] {
			return nil, fmt.Errorf("duplicate engine %q", n)
		}
		seen[e] = true
		out = append(out, e)
	}
	return out, nil
}

// Code returns the engine's bank code (1..4), or 0 for an unknown engine.
func (e Engine) Code() int64 {
	return engineCodes[e]
}

// BankCode is the bank code as it appears on the wire (dst_bank fields).
func (e Engine) BankCode() string {
	return fmt.Sprintf("%d", e.Code())
}

// Valid reports whether e names a known engine.
func (e Engine) Valid() bool {
	_, ok := engineCodes[e]
	return ok
}

// AccountNumber builds the 6-digit account number for slot n on engine e.
// The leading digit is the engine's bank code.
func AccountNumber(e Engine, n int) int64 {
	return e.Code()*100000 + int64(n)
}

// EngineForAccount resolves the owning engine from an account number's
// leading digit.
func EngineForAccount(accountID int64) (Engine, error) {
	e, ok := codeEngines[accountID/100000]
	if !ok {
		return "", fmt.Errorf("%w: no engine for account %d", ErrUnknownEngine, accountID)
	}
	return e, nil
}
