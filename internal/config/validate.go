package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// hhmm accepts a 24h wall-clock time such as 03:00.
	_ = v.RegisterValidation("hhmm", func(fl validator.FieldLevel) bool {
		_, err := time.Parse("15:04", fl.Field().String())
		return err == nil
	})
	return v
}

// Validate checks field constraints and cross-field rules.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}

	if c.Alerts.Telegram.BotToken != "" {
		parts := strings.Split(c.Alerts.Telegram.BotToken, ":")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			return errors.New("alerts.telegram.bot_token must look like <id>:<secret>")
		}
		if c.Alerts.Telegram.ChatID == "" {
			return errors.New("alerts.telegram.chat_id is required when a bot token is set")
		}
	}

	if c.SSH.Password != "" && c.SSH.User == "" {
		return errors.New("ssh.user is required when ssh.password is set")
	}

	return nil
}
