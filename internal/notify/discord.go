package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"duebell/internal/reminder"
	"duebell/pkg/logx"
)

const discordAPIBase = "https://discord.com/api/v10"

// Embed accent colors per urgency.
const (
	colorLow    = 0x3498db
	colorMedium = 0xf39c12
	colorHigh   = 0xe74c3c
)

// discordChannel DMs a single user through the Discord bot API: open
// (or reuse) the DM channel with the user, then post an embed into it.
type discordChannel struct {
	token  string
	userID string
	base   string
	httpc  *http.Client
	log    logx.Logger

	// The DM channel is cached after the first send; Discord returns the
	// same channel for repeated opens, so one POST is enough.
	mu        sync.Mutex
	dmChannel string
}

func newDiscord(cfg DiscordConfig, log logx.Logger) *discordChannel {
	return &discordChannel{
		token:  cfg.BotToken,
		userID: cfg.UserID,
		base:   discordAPIBase,
		httpc:  &http.Client{Timeout: 8 * time.Second},
		log:    log,
	}
}

func (d *discordChannel) Name() string { return "discord" }

func (d *discordChannel) Send(ctx context.Context, msg Message) error {
	channelID, err := d.dmChannelID(ctx)
	if err != nil {
		return err
	}

	embed := map[string]any{
		"title":       msg.Title,
		"description": msg.Body,
		"color":       embedColor(msg.Severity),
		"timestamp":   time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
	}
	payload := map[string]any{"embeds": []any{embed}}

	var resp struct {
		ID string `json:"id"`
	}
	if err := d.post(ctx, "/channels/"+channelID+"/messages", payload, &resp); err != nil {
		return err
	}
	return nil
}

func (d *discordChannel) dmChannelID(ctx context.Context) (string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dmChannel != "" {
		return d.dmChannel, nil
	}

	var resp struct {
		ID string `json:"id"`
	}
	err := d.post(ctx, "/users/@me/channels", map[string]any{"recipient_id": d.userID}, &resp)
	if err != nil {
		return "", err
	}
	if resp.ID == "" {
		return "", fmt.Errorf("%w: discord DM channel response missing id", ErrDelivery)
	}
	d.dmChannel = resp.ID
	d.log.Debug("discord DM channel opened", logx.String("channel_id", resp.ID))
	return resp.ID, nil
}

func (d *discordChannel) post(ctx context.Context, path string, payload, out any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%w: marshal payload: %v", ErrDelivery, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.base+path, bytes.NewReader(b))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	req.Header.Set("Authorization", "Bot "+d.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		var apiErr struct {
			Message string `json:"message"`
			Code    int    `json:"code"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Message != "" {
			return fmt.Errorf("%w: discord %s: %s (code=%d http=%d)", ErrDelivery, path, apiErr.Message, apiErr.Code, resp.StatusCode)
		}
		return fmt.Errorf("%w: discord %s: http=%d", ErrDelivery, path, resp.StatusCode)
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("%w: decode discord response: %v", ErrDelivery, err)
		}
	}
	return nil
}

func embedColor(s reminder.Severity) int {
	switch s {
	case reminder.SeverityHigh:
		return colorHigh
	case reminder.SeverityMedium:
		return colorMedium
	default:
		return colorLow
	}
}
