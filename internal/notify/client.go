// Package notify предоставляет клиент для внешнего сервиса уведомлений.
// Ядро только формирует запросы на напоминания; доставку (push, WhatsApp)
// выполняет внешний сервис.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// Client инкапсулирует HTTP-взаимодействие с сервисом уведомлений.
type Client struct {
	baseURL    string
	httpClient *retryablehttp.Client
}

// Reminder описывает запрос на напоминание о близком сроке взноса.
type Reminder struct {
	InstallmentID string    `json:"installment_id"`
	InvoiceID     string    `json:"invoice_id"`
	ClinicID      string    `json:"clinic_id"`
	Amount        float64   `json:"amount"`
	DueDate       time.Time `json:"due_date"`
}

// NewClient создаёт HTTP-клиент сервиса уведомлений по указанному адресу.
func NewClient(baseURL string) *Client {
	c := retryablehttp.NewClient()
	c.RetryMax = 3
	c.RetryWaitMin = 1 * time.Second
	c.RetryWaitMax = 5 * time.Second
	c.HTTPClient.Timeout = 5 * time.Second
	c.Logger = nil

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: c,
	}
}

// SendReminder отправляет запрос на напоминание по одному взносу.
func (c *Client) SendReminder(ctx context.Context, rem Reminder) error {
	if c == nil || c.baseURL == "" {
		return fmt.Errorf("notify client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + base
	}

	body, err := json.Marshal(rem)
	if err != nil {
		return fmt.Errorf("marshal reminder: %w", err)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, http.MethodPost, base+"/api/reminders", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		// Сервис уведомлений перегружен: напоминание уйдёт в следующий проход.
		return nil
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return fmt.Errorf("unexpected status: %d", resp.StatusCode)
	}

	return nil
}
