// Package config содержит логику чтения конфигурации биллингового сервиса.
package config

import (
	"flag"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config содержит параметры конфигурации биллингового сервиса.
type Config struct {
	RunAddress    string `env:"RUN_ADDRESS"`
	DatabaseURI   string `env:"DATABASE_URI"`
	NotifyAddress string `env:"NOTIFY_ADDRESS"`
	AuthSecret    string `env:"AUTH_SECRET"`

	StatusRefreshInterval time.Duration `env:"STATUS_REFRESH_INTERVAL"`
	ReminderDays          int           `env:"REMINDER_DAYS"`

	InvoiceSeqStart int64 `env:"INVOICE_SEQ_START"`
	PaymentSeqStart int64 `env:"PAYMENT_SEQ_START"`
}

// Parse считывает конфигурацию из флагов командной строки и переменных окружения.
// Значение из окружения имеет приоритет над флагом.
func Parse() (*Config, error) {
	cfg := &Config{}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	envRunAddress := cfg.RunAddress
	envDatabaseURI := cfg.DatabaseURI
	envNotifyAddress := cfg.NotifyAddress
	envAuthSecret := cfg.AuthSecret
	envRefresh := cfg.StatusRefreshInterval
	envReminderDays := cfg.ReminderDays
	envInvoiceSeq := cfg.InvoiceSeqStart
	envPaymentSeq := cfg.PaymentSeqStart

	flag.StringVar(&cfg.RunAddress, "a", "localhost:8080", "address and port for HTTP server")
	flag.StringVar(&cfg.DatabaseURI, "d", "", "database URI")
	flag.StringVar(&cfg.NotifyAddress, "n", "", "notification service address")
	flag.StringVar(&cfg.AuthSecret, "s", "medledger-secret", "actor token signing secret")
	flag.DurationVar(&cfg.StatusRefreshInterval, "i", time.Hour, "installment status refresh interval")
	flag.IntVar(&cfg.ReminderDays, "w", 3, "days ahead to send installment reminders")
	flag.Int64Var(&cfg.InvoiceSeqStart, "invoice-seq", 1000, "first invoice sequence number")
	flag.Int64Var(&cfg.PaymentSeqStart, "payment-seq", 5000, "first payment sequence number")

	flag.Parse()

	if envRunAddress != "" {
		cfg.RunAddress = envRunAddress
	}
	if envDatabaseURI != "" {
		cfg.DatabaseURI = envDatabaseURI
	}
	if envNotifyAddress != "" {
		cfg.NotifyAddress = envNotifyAddress
	}
	if envAuthSecret != "" {
		cfg.AuthSecret = envAuthSecret
	}
	if envRefresh != 0 {
		cfg.StatusRefreshInterval = envRefresh
	}
	if envReminderDays != 0 {
		cfg.ReminderDays = envReminderDays
	}
	if envInvoiceSeq != 0 {
		cfg.InvoiceSeqStart = envInvoiceSeq
	}
	if envPaymentSeq != 0 {
		cfg.PaymentSeqStart = envPaymentSeq
	}

	if cfg.RunAddress == "" {
		cfg.RunAddress = "localhost:8080"
	}

	return cfg, nil
}
