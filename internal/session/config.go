package session

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Config describes how to reach and drive a target's shell. Every field is
// required; defaults are the business of whoever loads configuration.
type Config struct {
	Host     string
	Port     int
	Username string
	Password string

	// PromptPattern is a regular expression matching the shell prompt.
	PromptPattern string

	// LoginPrompts, PasswordPrompts and RejectPatterns are regular
	// expressions for the login conversation.
	LoginPrompts    []string
	PasswordPrompts []string
	RejectPatterns  []string

	// LoginTimeout bounds the connect and each login wait.
	LoginTimeout time.Duration

	// CommandTimeout bounds the main script.
	CommandTimeout time.Duration

	// OverallTimeout bounds a whole run.
	OverallTimeout time.Duration

	// PrepareTimeout bounds directory changes, permission setting and facts.
	PrepareTimeout time.Duration

	// CloseTimeout bounds the graceful logout.
	CloseTimeout time.Duration
}

// Validate checks the configuration without touching the network.
func (c Config) Validate() error {
	var errs []error

	if strings.TrimSpace(c.Host) == "" {
		errs = append(errs, errors.New("host is required"))
	}
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("port %d out of range", c.Port))
	}
	if c.Username == "" {
		errs = append(errs, errors.New("username is required"))
	}
	if strings.TrimSpace(c.PromptPattern) == "" {
		errs = append(errs, errors.New("prompt pattern is required"))
	}
	if len(c.LoginPrompts) == 0 {
		errs = append(errs, errors.New("at least one login prompt pattern is required"))
	}
	if len(c.PasswordPrompts) == 0 {
		errs = append(errs, errors.New("at least one password prompt pattern is required"))
	}

	timeouts := []struct {
		name string
		d    time.Duration
	}{
		{"login", c.LoginTimeout},
		{"command", c.CommandTimeout},
		{"overall", c.OverallTimeout},
		{"prepare", c.PrepareTimeout},
		{"close", c.CloseTimeout},
	}
	for _, t := range timeouts {
		if t.d <= 0 {
			errs = append(errs, fmt.Errorf("%s timeout must be positive, got %s", t.name, t.d))
		}
	}

	return errors.Join(errs...)
}
