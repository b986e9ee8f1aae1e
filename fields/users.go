package fields

import (
	"crypto/rand"
	"encoding/base32"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

// User is a mediadesk account. Login is email+password gated by a one-time
// code mailed to the user; UID is the stable identifier carried in JWTs.
type User struct {
	gorm.Model
	UID           string `json:"uid" gorm:"index:idx_uid,unique"`
	Username      string `json:"username" gorm:"index:idx_username,unique"`
	Fullname      string `json:"fullname"`
	Email         string `json:"email" gorm:"index:idx_email,unique"`
	Mobile        string `json:"mobile"`
	Password      string `binding:"omitempty,min=8,max=64" json:"password,omitempty"`
	Password2     string `json:"password2,omitempty" gorm:"-"`
	OTPSecret     string `json:"-"`
	IsVerified    bool   `json:"is_verified" gorm:"default:false"`
	IsOTPRequired bool   `json:"is_otp_required" gorm:"default:true"`
	Language      string `json:"language"`

	db *gorm.DB
}

const otpDigits = otp.DigitsSix

func otpOpts(period int) totp.ValidateOpts {
	if period <= 0 {
		period = 600
	}
	return totp.ValidateOpts{
		Period:    uint(period),
		Skew:      1,
		Digits:    otpDigits,
		Algorithm: otp.AlgorithmSHA1,
	}
}

// NewOTPSecret returns a fresh base32 secret for totp codes.
func NewOTPSecret() (string, error) {
	buf := make([]byte, 20)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base32.StdEncoding.WithPadding(base32.NoPadding).EncodeToString(buf), nil
}

func NewUser(db *gorm.DB) *User {
	return &User{db: db}
}

// GetUserByEmail retrieves a user by their (lowercased) email.
func GetUserByEmail(email string, db *gorm.DB) (User, error) {
	var user User
	if result := db.First(&user, "email = ?", strings.ToLower(email)); errors.Is(result.Error, gorm.ErrRecordNotFound) {
		return user, errors.New("user not found")
	}
	user.db = db
	return user, nil
}

// GetUserByID retrieves a user by primary key.
func GetUserByID(id uint, db *gorm.DB) (User, error) {
	var user User
	if result := db.First(&user, id); result.Error != nil {
		return user, result.Error
	}
	user.db = db
	return user, nil
}

func (u *User) SanitizeName() {
	u.Username = strings.ToLower(strings.TrimSpace(u.Username))
	u.Email = strings.ToLower(strings.TrimSpace(u.Email))
}

func (u *User) HashPassword() error {
	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(u.Password), 8)
	if err != nil {
		return err
	}
	u.Password = string(hashedPassword)
	u.Password2 = string(hashedPassword)
	return nil
}

func (u *User) ComparePassword(plain string) error {
	return bcrypt.CompareHashAndPassword([]byte(u.Password), []byte(plain))
}

// GenerateOtp issues the current one-time code for this user. The code is
// valid for one period (plus one period of skew on verification).
func (u *User) GenerateOtp(period int) (string, error) {
	if u.OTPSecret == "" {
		return "", errors.New("user has no otp secret")
	}
	return totp.GenerateCodeCustom(u.OTPSecret, time.Now(), otpOpts(period))
}

// VerifyOtp checks a submitted one-time code against the user's secret.
func (u *User) VerifyOtp(code string, period int) bool {
	if u.OTPSecret == "" || code == "" {
		return false
	}
	ok, err := totp.ValidateCustom(code, u.OTPSecret, time.Now(), otpOpts(period))
	return ok && err == nil
}

// BeforeCreate provisions the stable UID and the otp secret.
func (u *User) BeforeCreate(tx *gorm.DB) error {
	if u.UID == "" {
		u.UID = uuid.NewString()
	}
	if u.OTPSecret == "" {
		secret, err := NewOTPSecret()
		if err != nil {
			return err
		}
		u.OTPSecret = secret
	}
	return nil
}

// UserProfile is the subset of User exposed on profile reads and updates.
type UserProfile struct {
	UID        string `json:"uid"`
	Username   string `json:"username"`
	Fullname   string `json:"fullname"`
	Email      string `json:"email"`
	Mobile     string `json:"mobile"`
	IsVerified bool   `json:"is_verified"`
	Language   string `json:"language"`
}

func (u User) Profile() UserProfile {
	return UserProfile{
		UID:        u.UID,
		Username:   u.Username,
		Fullname:   u.Fullname,
		Email:      u.Email,
		Mobile:     u.Mobile,
		IsVerified: u.IsVerified,
		Language:   u.Language,
	}
}

// UpdateUser persists profile-level changes.
func UpdateUser(user User, db *gorm.DB) error {
	return db.Model(&User{}).Where("id = ?", user.ID).Updates(map[string]interface{}{
		"fullname": user.Fullname,
		"username": user.Username,
		"mobile":   user.Mobile,
		"language": user.Language,
	}).Error
}
