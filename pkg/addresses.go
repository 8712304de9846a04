package pkg

import "github.com/gagliardetto/solana-go"

var (
	// FluxCoreProgramID is the lending vault program.
	FluxCoreProgramID = solana.MustPublicKeyFromBase58("Fg6PaFpoGXkYsidMpWTK6W2BeZ7FEfcYkg476zPFsLnS")
	// FluxIncineratorProgramID burns assets unloaded from a vault.
	FluxIncineratorProgramID = solana.MustPublicKeyFromBase58("86xCnPeV69n6t3DnyGvkKobf9FdN2H9oiVDdaMpo2MMY")
	// JupiterAggregatorV6 is invoked by the program during liquidation.
	JupiterAggregatorV6 = solana.MustPublicKeyFromBase58("JUP6LkbZbjS1jKKwapdHNy74zcZ3tLUZoi5QNyVTaV4")

	TokenProgramID = solana.MustPublicKeyFromBase58("TokenkegQfeZyiNwAJbNbGKPFXCWuBvf9Ss623VQ5DA")
)
