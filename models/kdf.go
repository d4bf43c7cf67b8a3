package models

import (
	"errors"
	"fmt"
)

var ErrInvalidKdf = errors.New("invalid client KDF")

// KdfType is the stored client_kdf_type value.
type KdfType int32

const (
	KdfPBKDF2   KdfType = 0
	KdfArgon2id KdfType = 1
)

func (t KdfType) String() string {
	switch t {
	case KdfPBKDF2:
		return "PBKDF2"
	case KdfArgon2id:
		return "Argon2id"
	default:
		return fmt.Sprintf("KdfType(%d)", int32(t))
	}
}

// Accepted parameter ranges.
const (
	PBKDF2MinIterations = 600_000
	PBKDF2MaxIterations = 2_000_000

	Argon2MinIterations  = 2
	Argon2MaxIterations  = 10
	Argon2MinMemoryMB    = 16
	Argon2MaxMemoryMB    = 1024
	Argon2MinParallelism = 1
	Argon2MaxParallelism = 16
)

// ClientKdf describes how a client derives its master key. Memory (in MB) and
// Parallelism only apply to Argon2id.
type ClientKdf struct {
	Type        KdfType
	Iterations  int32
	Memory      int32
	Parallelism int32
}

func DefaultClientKdf() ClientKdf {
	return ClientKdf{Type: KdfPBKDF2, Iterations: PBKDF2MinIterations}
}

func (k ClientKdf) Validate() error {
	switch k.Type {
	case KdfPBKDF2:
		if k.Iterations < PBKDF2MinIterations || k.Iterations > PBKDF2MaxIterations {
			return fmt.Errorf("%w: PBKDF2 iterations %d not in [%d, %d]", ErrInvalidKdf, k.Iterations, PBKDF2MinIterations, PBKDF2MaxIterations)
		}
		if k.Memory != 0 || k.Parallelism != 0 {
			return fmt.Errorf("%w: PBKDF2 takes no memory or parallelism", ErrInvalidKdf)
		}
	case KdfArgon2id:
		if k.Iterations < Argon2MinIterations || k.Iterations > Argon2MaxIterations {
			return fmt.Errorf("%w: Argon2id iterations %d not in [%d, %d]", ErrInvalidKdf, k.Iterations, Argon2MinIterations, Argon2MaxIterations)
		}
		if k.Memory < Argon2MinMemoryMB || k.Memory > Argon2MaxMemoryMB {
			return fmt.Errorf("%w: Argon2id memory %d MB not in [%d, %d]", ErrInvalidKdf, k.Memory, Argon2MinMemoryMB, Argon2MaxMemoryMB)
		}
		if k.Parallelism < Argon2MinParallelism || k.Parallelism > Argon2MaxParallelism {
			return fmt.Errorf("%w: Argon2id parallelism %d not in [%d, %d]", ErrInvalidKdf, k.Parallelism, Argon2MinParallelism, Argon2MaxParallelism)
		}
	default:
		return fmt.Errorf("%w: unknown type %v", ErrInvalidKdf, k.Type)
	}
	return nil
}
