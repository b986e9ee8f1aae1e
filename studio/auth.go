package studio

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt"
	"gorm.io/gorm"

	"github.com/mediadesk/mediadesk/apperr"
	"github.com/mediadesk/mediadesk/fields"
	"github.com/mediadesk/mediadesk/utils"
)

// Register creates a new account. The first verification code is mailed
// right away so the user can verify without an extra round trip.
func (s *Service) Register(c *fiber.Ctx) error {
	var req fields.RegisterRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	if !validatePassword(req.Password) {
		return fields.RespondError(c, errWeakPassword)
	}

	user := fields.User{
		Username: req.Username,
		Fullname: req.Fullname,
		Email:    req.Email,
		Mobile:   req.Mobile,
		Password: req.Password,
	}
	if user.Username == "" {
		user.Username = user.Email
	}
	user.SanitizeName()

	if _, err := fields.GetUserByEmail(user.Email, s.Db); err == nil {
		return fields.RespondError(c, apperr.Wrap(errors.New(user.Email), apperr.ErrConflict, "email already registered"))
	}
	if err := user.HashPassword(); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "hash password"))
	}
	if err := s.Db.Create(&user).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrConflict, "username or email already registered"))
		}
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "create user"))
	}

	if code, err := user.GenerateOtp(s.Config.OTPPeriodSeconds); err == nil {
		go utils.SendMail(&s.Config, utils.Mail{
			To:      user.Email,
			Subject: "Verify your mediadesk account",
			Body:    fmt.Sprintf("Your one-time verification code is: %s. DON'T share it with anyone.", code),
		})
	}
	s.Logger.WithField("email", user.Email).Info("user registered")
	return fields.Respond(c, http.StatusCreated, user.Profile())
}

// Login checks the password and either returns a token pair or, for
// accounts gated behind a one-time code, mails a code and tells the client
// to verify it first.
func (s *Service) Login(c *fiber.Ctx) error {
	var req fields.LoginRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	ctx := c.UserContext()
	if s.userExceededMaxAttempts(ctx, req.Email) {
		return fields.RespondError(c, errTooManyAttempts)
	}

	user, err := fields.GetUserByEmail(req.Email, s.Db)
	if err != nil {
		s.bumpLoginCounter(ctx, req.Email)
		return fields.RespondError(c, errUserNotFound)
	}
	if err := user.ComparePassword(req.Password); err != nil {
		s.bumpLoginCounter(ctx, req.Email)
		return fields.RespondError(c, errWrongPassword)
	}
	s.clearLoginCounter(ctx, req.Email)

	if user.IsOTPRequired || !user.IsVerified {
		if code, err := user.GenerateOtp(s.Config.OTPPeriodSeconds); err == nil {
			go utils.SendMail(&s.Config, utils.Mail{
				To:      user.Email,
				Subject: "Your mediadesk sign-in code",
				Body:    fmt.Sprintf("Your one-time access code is: %s. DON'T share it with anyone.", code),
			})
		}
		return fields.RespondMessage(c, http.StatusOK, fiber.Map{"otp_required": true}, "otp_required")
	}

	return s.respondWithTokens(c, user)
}

// GenerateOTP mails a fresh one-time code. It answers 200 either way so
// the endpoint cannot be used to probe which emails exist.
func (s *Service) GenerateOTP(c *fiber.Ctx) error {
	var req fields.OTPGenerateRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	user, err := fields.GetUserByEmail(req.Email, s.Db)
	if err != nil {
		s.Logger.WithField("email", req.Email).Info("otp requested for unknown email")
		return fields.RespondMessage(c, http.StatusOK, nil, "otp sent")
	}
	code, err := user.GenerateOtp(s.Config.OTPPeriodSeconds)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "generate otp"))
	}
	go utils.SendMail(&s.Config, utils.Mail{
		To:      user.Email,
		Subject: "Your mediadesk sign-in code",
		Body:    fmt.Sprintf("Your one-time access code is: %s. DON'T share it with anyone.", code),
	})
	return fields.RespondMessage(c, http.StatusOK, nil, "otp sent")
}

// VerifyOTP validates a mailed code, marks the account verified and issues
// a token pair.
func (s *Service) VerifyOTP(c *fiber.Ctx) error {
	var req fields.OTPVerifyRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	user, err := fields.GetUserByEmail(req.Email, s.Db)
	if err != nil {
		return fields.RespondError(c, errUserNotFound)
	}
	if !user.VerifyOtp(req.OTP, s.Config.OTPPeriodSeconds) {
		return fields.RespondError(c, errInvalidOTP)
	}
	if !user.IsVerified {
		if err := s.Db.Model(&fields.User{}).Where("id = ?", user.ID).Update("is_verified", true).Error; err != nil {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "mark verified"))
		}
		user.IsVerified = true
	}
	return s.respondWithTokens(c, user)
}

// Refresh exchanges a valid refresh token for a fresh token pair.
func (s *Service) Refresh(c *fiber.Ctx) error {
	var req fields.RefreshRequest
	if err := bindJSON(c, &req); err != nil {
		return fields.RespondError(c, err)
	}
	claims, err := s.Auth.VerifyRefresh(req.RefreshToken)
	if e, ok := err.(*jwt.ValidationError); ok {
		if e.Errors&jwt.ValidationErrorExpired != 0 {
			return fields.RespondError(c, apperr.New("jwt_expired", http.StatusUnauthorized, "refresh token has expired"))
		}
		return fields.RespondError(c, apperr.New("jwt_malformed", http.StatusUnauthorized, "malformed refresh token"))
	} else if err != nil || claims == nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnauthorized, "invalid refresh token"))
	}
	user, err := fields.GetUserByID(claims.UserID, s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnauthorized, "account no longer exists"))
	}
	return s.respondWithTokens(c, user)
}

// Me returns the caller's profile.
func (s *Service) Me(c *fiber.Ctx) error {
	user, err := fields.GetUserByID(getUserID(c), s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnauthorized, "account no longer exists"))
	}
	return fields.Respond(c, http.StatusOK, user.Profile())
}

// UpdateMe updates the caller's profile-level fields.
func (s *Service) UpdateMe(c *fiber.Ctx) error {
	user, err := fields.GetUserByID(getUserID(c), s.Db)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrUnauthorized, "account no longer exists"))
	}
	var req fields.UserProfile
	if err := parseJSON(c, &req); err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrBadRequest, "malformed json body"))
	}
	if req.Fullname != "" {
		user.Fullname = req.Fullname
	}
	if req.Username != "" {
		user.Username = req.Username
	}
	if req.Mobile != "" {
		user.Mobile = req.Mobile
	}
	if req.Language != "" {
		user.Language = req.Language
	}
	user.SanitizeName()
	if err := fields.UpdateUser(user, s.Db); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return fields.RespondError(c, apperr.Wrap(err, apperr.ErrConflict, "username already taken"))
		}
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrDatabase, "update user"))
	}
	return fields.Respond(c, http.StatusOK, user.Profile())
}

func (s *Service) respondWithTokens(c *fiber.Ctx, user fields.User) error {
	access, err := s.Auth.GenerateJWT(user)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "sign access token"))
	}
	refresh, err := s.Auth.GenerateRefresh(user)
	if err != nil {
		return fields.RespondError(c, apperr.Wrap(err, apperr.ErrInternal, "sign refresh token"))
	}
	c.Set("Authorization", access)
	return fields.Respond(c, http.StatusOK, fiber.Map{
		"access_token":  access,
		"refresh_token": refresh,
		"user":          user.Profile(),
	})
}
