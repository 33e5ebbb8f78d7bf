package main

import (
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/portal"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/lib/scrape"
	"github.com/ahmetbahadiryilmaz/surucukursu-2026-sub002/services/challenges"
)

type CredentialConfig struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type ChallengeConfig struct {
	TimeoutSeconds int `json:"timeout_seconds"`
	// optional, challenges are emailed to the operators when set
	Smtp      challenges.SmtpConfig `json:"smtp"`
	Operators []string              `json:"operators"`
}

type Config struct {
	Port int `json:"port"`
	// sqlite file path or a libsql:// DSN
	Database string `json:"database"`

	Portal portal.Endpoints `json:"portal"`
	Grid   scrape.Options   `json:"grid"`

	// portal credentials per account id
	Accounts map[string]CredentialConfig `json:"accounts"`

	Challenge ChallengeConfig `json:"challenge"`
}
