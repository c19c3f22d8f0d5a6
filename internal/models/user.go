package models

import "time"

// Role is an authorization role.
type Role string

const (
	RoleUser       Role = "USER"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// User is an account that can log in.
type User struct {
	Base
	Name            string     `json:"name"              gorm:"not null"`
	Email           string     `json:"email"             gorm:"uniqueIndex;not null"`
	PasswordHash    string     `json:"-"                 gorm:"not null"`
	IsEmailVerified bool       `json:"is_email_verified" gorm:"not null;default:false"`
	Roles           []UserRole `json:"roles,omitempty"   gorm:"foreignKey:UserID"`
	Profile         *Profile   `json:"profile,omitempty" gorm:"foreignKey:UserID"`
	Wallets         []Wallet   `json:"wallets,omitempty" gorm:"foreignKey:UserID"`
}

func (User) TableName() string { return "users" }

// PrimaryRole returns the first assigned role, USER when none.
func (u *User) PrimaryRole() Role {
	if len(u.Roles) == 0 {
		return RoleUser
	}
	return u.Roles[0].Role
}

type UserRole struct {
	Base
	UserID string `json:"user_id" gorm:"type:char(36);index;not null"`
	Role   Role   `json:"role"    gorm:"type:varchar(32);not null"`
}

func (UserRole) TableName() string { return "user_roles" }

// EmailVerificationCode is a six digit code mailed after registration.
type EmailVerificationCode struct {
	Base
	UserID    string    `json:"user_id"    gorm:"type:char(36);index;not null"`
	Code      string    `json:"-"          gorm:"type:varchar(6);not null"`
	ExpiresAt time.Time `json:"expires_at" gorm:"not null"`
	Used      bool      `json:"used"       gorm:"not null;default:false"`
}

func (EmailVerificationCode) TableName() string { return "email_verification_codes" }

type Profile struct {
	Base
	UserID    string `json:"user_id"    gorm:"type:char(36);uniqueIndex;not null"`
	FullName  string `json:"full_name"`
	AvatarURL string `json:"avatar_url"`
	Bio       string `json:"bio"        gorm:"type:varchar(500)"`
	Phone     string `json:"phone"      gorm:"type:varchar(15)"`
}

func (Profile) TableName() string { return "profiles" }

// Chain is a supported blockchain for payout wallets.
type Chain string

const (
	ChainBTC      Chain = "BTC"
	ChainETH      Chain = "ETH"
	ChainBSC      Chain = "BSC"
	ChainSOL      Chain = "SOL"
	ChainTRON     Chain = "TRON"
	ChainArbitrum Chain = "ARBITRUM"
)

// Wallet is a crypto address attached to a user.
type Wallet struct {
	Base
	UserID     string `json:"user_id"     gorm:"type:char(36);index;not null"`
	Chain      Chain  `json:"chain"       gorm:"type:varchar(16);not null"`
	Address    string `json:"address"     gorm:"not null"`
	Label      string `json:"label"`
	NetworkTag string `json:"network_tag"`
}

func (Wallet) TableName() string { return "wallets" }
