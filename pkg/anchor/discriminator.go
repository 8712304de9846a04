// Package anchor computes the 8-byte discriminators the program framework
// prefixes to account data and instruction payloads.
package anchor

import "crypto/sha256"

// DiscriminatorSize is the width of every discriminator.
const DiscriminatorSize = 8

type Discriminator [DiscriminatorSize]byte

func sighash(namespace, name string) Discriminator {
	var d Discriminator
	sum := sha256.Sum256([]byte(namespace + ":" + name))
	copy(d[:], sum[:DiscriminatorSize])
	return d
}

// AccountDiscriminator returns sha256("account:<Name>")[:8]. Name is the
// account struct name as declared in the program, e.g. "Vault".
func AccountDiscriminator(name string) Discriminator {
	return sighash("account", name)
}

// InstructionDiscriminator returns sha256("global:<name>")[:8] for a
// snake_case instruction handler name, e.g. "fetch_assets".
func InstructionDiscriminator(name string) Discriminator {
	return sighash("global", name)
}

// Matches reports whether data starts with d.
func (d Discriminator) Matches(data []byte) bool {
	if len(data) < DiscriminatorSize {
		return false
	}
	for i := range d {
		if data[i] != d[i] {
			return false
		}
	}
	return true
}
