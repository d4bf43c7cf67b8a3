// Package models declares the password manager's tables.
package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/andreyvit/kvtab"
)

type User struct {
	UUID             uuid.UUID
	Enabled          bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
	VerifiedAt       *time.Time
	LastVerifyingAt  *time.Time
	LoginVerifyCount int32

	Email         string
	EmailNew      *string
	EmailNewToken *string
	Name          string

	PasswordHash       []byte
	Salt               []byte
	PasswordIterations int32
	PasswordHint       *string

	Akey       string
	PrivateKey *string
	PublicKey  *string

	TotpSecret  *string
	TotpRecover *string

	SecurityStamp  string
	StampException *string

	EquivalentDomains string
	ExcludedGlobals   string

	ClientKdfType        int32
	ClientKdfIter        int32
	ClientKdfMemory      *int32
	ClientKdfParallelism *int32

	APIKey      *string
	AvatarColor *string
	ExternalID  *string
}

type Folder struct {
	UUID      uuid.UUID
	CreatedAt time.Time
	UpdatedAt time.Time
	UserUUID  uuid.UUID
	Name      string
}

type Device struct {
	UUID              uuid.UUID
	UserUUID          uuid.UUID
	CreatedAt         time.Time
	UpdatedAt         time.Time
	Name              string
	Atype             int32
	PushUUID          *string
	PushToken         *string
	RefreshToken      string
	TwofactorRemember string
}

var (
	Schema = kvtab.NewSchema(kvtab.SchemaOpts{})

	Users                    = kvtab.AddTable[User](Schema, "user")
	UserUUID                 = kvtab.AddColumn(Users, "uuid", 0, func(r *User) *uuid.UUID { return &r.UUID })
	UserEnabled              = kvtab.AddColumn(Users, "enabled", 1, func(r *User) *bool { return &r.Enabled })
	UserCreatedAt            = kvtab.AddColumn(Users, "created_at", 2, func(r *User) *time.Time { return &r.CreatedAt })
	UserUpdatedAt            = kvtab.AddColumn(Users, "updated_at", 3, func(r *User) *time.Time { return &r.UpdatedAt })
	UserVerifiedAt           = kvtab.AddColumn(Users, "verified_at", 4, func(r *User) **time.Time { return &r.VerifiedAt })
	UserLastVerifyingAt      = kvtab.AddColumn(Users, "last_verifying_at", 5, func(r *User) **time.Time { return &r.LastVerifyingAt })
	UserLoginVerifyCount     = kvtab.AddColumn(Users, "login_verify_count", 6, func(r *User) *int32 { return &r.LoginVerifyCount })
	UserEmail                = kvtab.AddColumn(Users, "email", 7, func(r *User) *string { return &r.Email })
	UserEmailNew             = kvtab.AddColumn(Users, "email_new", 8, func(r *User) **string { return &r.EmailNew })
	UserEmailNewToken        = kvtab.AddColumn(Users, "email_new_token", 9, func(r *User) **string { return &r.EmailNewToken })
	UserName                 = kvtab.AddColumn(Users, "name", 10, func(r *User) *string { return &r.Name })
	UserPasswordHash         = kvtab.AddColumn(Users, "password_hash", 11, func(r *User) *[]byte { return &r.PasswordHash })
	UserSalt                 = kvtab.AddColumn(Users, "salt", 12, func(r *User) *[]byte { return &r.Salt })
	UserPasswordIterations   = kvtab.AddColumn(Users, "password_iterations", 13, func(r *User) *int32 { return &r.PasswordIterations })
	UserPasswordHint         = kvtab.AddColumn(Users, "password_hint", 14, func(r *User) **string { return &r.PasswordHint })
	UserAkey                 = kvtab.AddColumn(Users, "akey", 15, func(r *User) *string { return &r.Akey })
	UserPrivateKey           = kvtab.AddColumn(Users, "private_key", 16, func(r *User) **string { return &r.PrivateKey })
	UserPublicKey            = kvtab.AddColumn(Users, "public_key", 17, func(r *User) **string { return &r.PublicKey })
	UserTotpSecret           = kvtab.AddColumn(Users, "totp_secret", 18, func(r *User) **string { return &r.TotpSecret })
	UserTotpRecover          = kvtab.AddColumn(Users, "totp_recover", 19, func(r *User) **string { return &r.TotpRecover })
	UserSecurityStamp        = kvtab.AddColumn(Users, "security_stamp", 20, func(r *User) *string { return &r.SecurityStamp })
	UserStampException       = kvtab.AddColumn(Users, "stamp_exception", 21, func(r *User) **string { return &r.StampException })
	UserEquivalentDomains    = kvtab.AddColumn(Users, "equivalent_domains", 22, func(r *User) *string { return &r.EquivalentDomains })
	UserExcludedGlobals      = kvtab.AddColumn(Users, "excluded_globals", 23, func(r *User) *string { return &r.ExcludedGlobals })
	UserClientKdfType        = kvtab.AddColumn(Users, "client_kdf_type", 24, func(r *User) *int32 { return &r.ClientKdfType })
	UserClientKdfIter        = kvtab.AddColumn(Users, "client_kdf_iter", 25, func(r *User) *int32 { return &r.ClientKdfIter })
	UserClientKdfMemory      = kvtab.AddColumn(Users, "client_kdf_memory", 26, func(r *User) **int32 { return &r.ClientKdfMemory })
	UserClientKdfParallelism = kvtab.AddColumn(Users, "client_kdf_parallelism", 27, func(r *User) **int32 { return &r.ClientKdfParallelism })
	UserAPIKey               = kvtab.AddColumn(Users, "api_key", 28, func(r *User) **string { return &r.APIKey })
	UserAvatarColor          = kvtab.AddColumn(Users, "avatar_color", 29, func(r *User) **string { return &r.AvatarColor })
	UserExternalID           = kvtab.AddColumn(Users, "external_id", 30, func(r *User) **string { return &r.ExternalID })
	UsersByEmail             = kvtab.AddUniqueIndex(UserEmail)

	Folders         = kvtab.AddTable[Folder](Schema, "folder")
	FolderUUID      = kvtab.AddColumn(Folders, "uuid", 0, func(r *Folder) *uuid.UUID { return &r.UUID })
	FolderCreatedAt = kvtab.AddColumn(Folders, "created_at", 1, func(r *Folder) *time.Time { return &r.CreatedAt })
	FolderUpdatedAt = kvtab.AddColumn(Folders, "updated_at", 2, func(r *Folder) *time.Time { return &r.UpdatedAt })
	FolderUserUUID  = kvtab.AddColumn(Folders, "user_uuid", 3, func(r *Folder) *uuid.UUID { return &r.UserUUID })
	FolderName      = kvtab.AddColumn(Folders, "name", 4, func(r *Folder) *string { return &r.Name })
	FoldersByUser   = kvtab.AddMultiIndex(FolderUserUUID)

	Devices                 = kvtab.AddTable[Device](Schema, "device")
	DeviceUUID              = kvtab.AddColumn(Devices, "uuid", 0, func(r *Device) *uuid.UUID { return &r.UUID })
	DeviceUserUUID          = kvtab.AddColumn(Devices, "user_uuid", 1, func(r *Device) *uuid.UUID { return &r.UserUUID })
	DeviceCreatedAt         = kvtab.AddColumn(Devices, "created_at", 2, func(r *Device) *time.Time { return &r.CreatedAt })
	DeviceUpdatedAt         = kvtab.AddColumn(Devices, "updated_at", 3, func(r *Device) *time.Time { return &r.UpdatedAt })
	DeviceName              = kvtab.AddColumn(Devices, "name", 4, func(r *Device) *string { return &r.Name })
	DeviceAtype             = kvtab.AddColumn(Devices, "atype", 5, func(r *Device) *int32 { return &r.Atype })
	DevicePushUUID          = kvtab.AddColumn(Devices, "push_uuid", 6, func(r *Device) **string { return &r.PushUUID })
	DevicePushToken         = kvtab.AddColumn(Devices, "push_token", 7, func(r *Device) **string { return &r.PushToken })
	DeviceRefreshToken      = kvtab.AddColumn(Devices, "refresh_token", 8, func(r *Device) *string { return &r.RefreshToken })
	DeviceTwofactorRemember = kvtab.AddColumn(Devices, "twofactor_remember", 9, func(r *Device) *string { return &r.TwofactorRemember })
	DevicesByUser           = kvtab.AddMultiIndex(DeviceUserUUID)
)

func init() {
	Users.SetPrimaryKey(UserUUID)
	Folders.SetPrimaryKey(FolderUUID)
	Devices.SetPrimaryKey(DeviceUUID, DeviceUserUUID)
}
