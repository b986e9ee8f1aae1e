package studio

import (
	"context"
	"net/http"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/redis/go-redis/v9"

	"github.com/mediadesk/mediadesk/apperr"
)

var (
	errWrongPassword   = apperr.New("wrong_password", http.StatusBadRequest, "wrong password entered")
	errUserNotFound    = apperr.New("not_found", http.StatusBadRequest, "user not found")
	errInvalidOTP      = apperr.New("invalid_otp", http.StatusBadRequest, "invalid otp")
	errTooManyAttempts = apperr.New("too_many_attempts", http.StatusTooManyRequests, "too many failed attempts, try again later")
	errWeakPassword    = apperr.New("password_invalid", http.StatusBadRequest,
		"Password must be at least 8 characters long, and must include at least one capital letter, one symbol and one number")
)

// validatePassword to include at least one capital letter, one symbol and
// one number and that it is at least 8 characters long
func validatePassword(password string) bool {
	if len(password) < 8 {
		return false
	}
	var hasUpper, hasSymbol, hasNumber bool
	if strings.ContainsAny(password, "@&#$%^*()_-+=!.?/<>[]:{}|\\;:\"") {
		hasSymbol = true
	}
	for _, c := range password {
		if unicode.IsUpper(c) {
			hasUpper = true
		}
		if unicode.IsSymbol(c) {
			hasSymbol = true
		}
		if unicode.IsNumber(c) {
			hasNumber = true
		}
	}
	return hasUpper && hasSymbol && hasNumber
}

// userExceededMaxAttempts tracks how many failed logins an email has made
// within the hour. Five misses lock the email out until the counter
// expires.
func (s *Service) userExceededMaxAttempts(ctx context.Context, email string) bool {
	if s.Redis == nil {
		return false
	}
	res, err := s.Redis.Get(ctx, email+":login_counts").Result()
	if err == redis.Nil {
		s.Redis.Set(ctx, email+":login_counts", 0, time.Hour)
	} else if err == nil {
		count, _ := strconv.Atoi(res)
		if count >= 5 {
			return true
		}
	}
	return false
}

func (s *Service) bumpLoginCounter(ctx context.Context, email string) {
	if s.Redis == nil {
		return
	}
	s.Redis.Incr(ctx, email+":login_counts")
}

func (s *Service) clearLoginCounter(ctx context.Context, email string) {
	if s.Redis == nil {
		return
	}
	s.Redis.Del(ctx, email+":login_counts")
}
