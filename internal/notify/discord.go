package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/pancholabs/pancho-engine/internal/domain"
)

// eventColors maps engine events onto embed accent colors so a settlement is
// visually distinct from a claim in the channel.
var eventColors = map[string]int{
	domain.EventRoundCreated: 0x3498db, // blue
	domain.EventRoundJoined:  0x95a5a6, // grey
	domain.EventRoundLocked:  0x9b59b6, // purple
	domain.EventRoundSettled: 0x2ecc71, // green
	domain.EventClaimed:      0xf1c40f, // gold
}

const defaultEmbedColor = 0x95a5a6

// DiscordSender delivers notifications to a Discord webhook as embeds.
type DiscordSender struct {
	webhookURL string
	client     *http.Client
}

// NewDiscordSender creates a DiscordSender for the given webhook URL.
func NewDiscordSender(webhookURL string) *DiscordSender {
	return &DiscordSender{
		webhookURL: webhookURL,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
}

type discordEmbed struct {
	Title       string `json:"title"`
	Description string `json:"description"`
	Color       int    `json:"color"`
}

type discordWebhookPayload struct {
	Embeds []discordEmbed `json:"embeds"`
}

// Send posts the notification as a single embed colored by its event type.
func (d *DiscordSender) Send(ctx context.Context, n Notification) error {
	color, ok := eventColors[n.Event]
	if !ok {
		color = defaultEmbedColor
	}

	body, err := json.Marshal(discordWebhookPayload{
		Embeds: []discordEmbed{{
			Title:       n.Title,
			Description: n.Body,
			Color:       color,
		}},
	})
	if err != nil {
		return fmt.Errorf("discord: marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.webhookURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("discord: create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("discord: send request: %w", err)
	}
	defer resp.Body.Close()

	// Discord returns 204 No Content on success.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return fmt.Errorf("discord: unexpected status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}

// Name returns the sender identifier.
func (d *DiscordSender) Name() string {
	return "discord"
}
