package models

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/kvtab"
)

// NormalizeEmail is applied to every stored and looked-up email.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NewUser returns an enabled, unsaved user with a fresh UUID and security stamp.
func NewUser(email, name string) *User {
	now := time.Now().UTC()
	u := &User{
		UUID:              uuid.New(),
		Enabled:           true,
		CreatedAt:         now,
		UpdatedAt:         now,
		Email:             NormalizeEmail(email),
		Name:              name,
		SecurityStamp:     uuid.NewString(),
		EquivalentDomains: "[]",
		ExcludedGlobals:   "[]",
	}
	u.SetKdf(DefaultClientKdf())
	return u
}

func (u *User) Kdf() ClientKdf {
	k := ClientKdf{Type: KdfType(u.ClientKdfType), Iterations: u.ClientKdfIter}
	if u.ClientKdfMemory != nil {
		k.Memory = *u.ClientKdfMemory
	}
	if u.ClientKdfParallelism != nil {
		k.Parallelism = *u.ClientKdfParallelism
	}
	return k
}

func (u *User) SetKdf(k ClientKdf) {
	u.ClientKdfType = int32(k.Type)
	u.ClientKdfIter = k.Iterations
	u.ClientKdfMemory, u.ClientKdfParallelism = nil, nil
	if k.Type == KdfArgon2id {
		u.ClientKdfMemory = &k.Memory
		u.ClientKdfParallelism = &k.Parallelism
	}
}

// SaveUser validates and writes u. Saving a user whose email belongs to someone
// else fails with kvtab.ErrIndexAlreadyExists.
func SaveUser(ctx context.Context, tx kvtab.Transaction, u *User) error {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return fmt.Errorf("user %v: empty email", u.UUID)
	}
	if err := u.Kdf().Validate(); err != nil {
		return fmt.Errorf("user %v: %w", u.UUID, err)
	}
	return Users.Set(ctx, tx, u)
}

func UserByEmail(ctx context.Context, tx kvtab.Transaction, email string) (*User, error) {
	return UsersByEmail.Get(ctx, tx, NormalizeEmail(email))
}

// SetUserEmail moves a user from oldEmail to newEmail. It returns
// kvtab.ErrNotFound if nobody has oldEmail.
func SetUserEmail(ctx context.Context, tx kvtab.Transaction, oldEmail, newEmail string) (*User, error) {
	u, err := UserByEmail(ctx, tx, oldEmail)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, fmt.Errorf("user %s: %w", oldEmail, kvtab.ErrNotFound)
	}
	newEmail = NormalizeEmail(newEmail)
	if err := UserEmail.Set(ctx, tx, newEmail, u.UUID); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if err := UserUpdatedAt.Set(ctx, tx, now, u.UUID); err != nil {
		return nil, err
	}
	u.Email, u.UpdatedAt = newEmail, now
	return u, nil
}

// DeleteUser removes the user and everything they own. It reports whether the user existed.
func DeleteUser(ctx context.Context, tx kvtab.Transaction, userUUID uuid.UUID) (bool, error) {
	folders, err := FoldersOfUser(ctx, tx, userUUID)
	if err != nil {
		return false, err
	}
	for _, f := range folders {
		if _, err := Folders.Delete(ctx, tx, f.UUID); err != nil {
			return false, err
		}
	}
	devices, err := DevicesOfUser(ctx, tx, userUUID)
	if err != nil {
		return false, err
	}
	for _, d := range devices {
		if _, err := Devices.Delete(ctx, tx, d.UUID, d.UserUUID); err != nil {
			return false, err
		}
	}
	return Users.Delete(ctx, tx, userUUID)
}

func FoldersOfUser(ctx context.Context, tx kvtab.Transaction, userUUID uuid.UUID) ([]*Folder, error) {
	return FoldersByUser.GetAll(ctx, tx, userUUID)
}

func DevicesOfUser(ctx context.Context, tx kvtab.Transaction, userUUID uuid.UUID) ([]*Device, error) {
	return DevicesByUser.GetAll(ctx, tx, userUUID)
}
