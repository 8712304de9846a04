package txbuilder

import (
	"bytes"
	"fmt"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"

	"fluxsdk/pkg/anchor"
)

// Instruction names as declared by the program.
const (
	InstructionFetchAssets       = "fetch_assets"
	InstructionLiquidatePosition = "liquidate_position"
	InstructionUnloadVault       = "unload_vault"
	InstructionXferFunds         = "xfer_funds"
	InstructionUpdateConfig      = "update_config"
	InstructionEmergencyFreeze   = "emergency_freeze"
	InstructionEmergencyUnfreeze = "emergency_unfreeze"
)

// ProgramInstruction is a call into the vault program: the instruction
// discriminator followed by borsh-encoded arguments.
type ProgramInstruction struct {
	Name                    string
	Program                 solana.PublicKey
	Args                    []interface{}
	solana.AccountMetaSlice `bin:"-" borsh_skip:"true"`
}

var _ solana.Instruction = (*ProgramInstruction)(nil)

func (inst *ProgramInstruction) ProgramID() solana.PublicKey {
	return inst.Program
}

func (inst *ProgramInstruction) Accounts() []*solana.AccountMeta {
	return inst.AccountMetaSlice
}

func (inst *ProgramInstruction) Data() ([]byte, error) {
	buf := new(bytes.Buffer)

	discriminator := anchor.InstructionDiscriminator(inst.Name)
	if _, err := buf.Write(discriminator[:]); err != nil {
		return nil, fmt.Errorf("failed to write discriminator: %w", err)
	}

	enc := bin.NewBorshEncoder(buf)
	for i, arg := range inst.Args {
		if err := enc.Encode(arg); err != nil {
			return nil, fmt.Errorf("failed to encode %s argument %d: %w", inst.Name, i, err)
		}
	}
	return buf.Bytes(), nil
}
