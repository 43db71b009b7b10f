package domain

import "github.com/holiman/uint256"

// InstructionAction is the operation a remote executor should perform.
type InstructionAction string

const (
	ActionDeposit  InstructionAction = "DEPOSIT"
	ActionWithdraw InstructionAction = "WITHDRAW"
)

// Instruction is the payload carried to a remote executor.
// DEPOSIT instructions are always accompanied by a real transfer of the
// underlying asset; WITHDRAW instructions carry no funds and expect the
// executor to originate a return transfer reporting the amount sent.
type Instruction struct {
	Adapter Adapter           `json:"adapter"`
	Action  InstructionAction `json:"action"`
	Amount  *uint256.Int      `json:"amount"`
}

// Adapter is the yield-adapter address an instruction targets.
type Adapter = Address
