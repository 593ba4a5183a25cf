package narrator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/sync/errgroup"

	"github.com/museovivo/robot-tour-server/internal/model"
)

const defaultBaseURL = "https://generativelanguage.googleapis.com"

// Narrator produces guide narration for waypoints through a
// generative-language API. Generation is advisory: any failure falls
// back to the waypoint's stored description so tours keep moving.
type Narrator struct {
	client *resty.Client
	apiKey string
	model  string
	cache  Cache
	museum string
}

// Config carries the narrator's settings. APIKey may be empty, in
// which case generation is skipped entirely and fallbacks are served.
type Config struct {
	APIKey     string
	Model      string // e.g. "gemini-1.5-flash"
	BaseURL    string // override for tests
	MuseumName string
	Timeout    time.Duration
}

// New builds a Narrator. cache must not be nil; pass NewMemoryCache()
// when Redis is unavailable.
func New(cfg Config, cache Cache) *Narrator {
	if cfg.Model == "" {
		cfg.Model = "gemini-1.5-flash"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.MuseumName == "" {
		cfg.MuseumName = "the museum"
	}
	client := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	return &Narrator{
		client: client,
		apiKey: cfg.APIKey,
		model:  cfg.Model,
		cache:  cache,
		museum: cfg.MuseumName,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text"`
}

type generateResponse struct {
	Candidates []struct {
		Content content `json:"content"`
	} `json:"candidates"`
}

// Narrate returns the guide text for one waypoint: the cached narration
// if present, otherwise a freshly generated one, otherwise the
// fallback. The returned text is never empty.
func (n *Narrator) Narrate(ctx context.Context, routeName string, wp *model.Waypoint) string {
	key := cacheKey(wp.RouteID, wp.ID, wp.DisplayName(), wp.Description)
	if text, ok := n.cache.Get(ctx, key); ok && text != "" {
		return text
	}

	text, err := n.generate(ctx, routeName, wp)
	if err != nil {
		log.Printf("narrator: generation failed for waypoint %d, using fallback: %v", wp.ID, err)
		return n.fallback(wp)
	}
	n.cache.Set(ctx, key, text)
	return text
}

// NarrateAll enriches every waypoint of a route concurrently, returning
// narrations in waypoint order. It never fails: individual errors are
// absorbed into fallback text.
func (n *Narrator) NarrateAll(ctx context.Context, routeName string, wps []*model.Waypoint) []string {
	out := make([]string, len(wps))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(4)
	for i, wp := range wps {
		i, wp := i, wp
		g.Go(func() error {
			out[i] = n.Narrate(gctx, routeName, wp)
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (n *Narrator) generate(ctx context.Context, routeName string, wp *model.Waypoint) (string, error) {
	if n.apiKey == "" {
		return "", fmt.Errorf("no api key configured")
	}

	prompt := fmt.Sprintf(
		"You are a friendly museum tour guide at %s. Write a short, engaging spoken narration "+
			"(2-3 sentences, no markdown) for the stop %q on the %q tour.",
		n.museum, wp.DisplayName(), routeName)
	if wp.Description != "" {
		prompt += " Base it on this description: " + wp.Description
	}

	var res generateResponse
	resp, err := n.client.R().
		SetContext(ctx).
		SetQueryParam("key", n.apiKey).
		SetBody(generateRequest{Contents: []content{{Parts: []part{{Text: prompt}}}}}).
		SetResult(&res).
		Post(fmt.Sprintf("/v1beta/models/%s:generateContent", n.model))
	if err != nil {
		return "", err
	}
	if resp.IsError() {
		return "", fmt.Errorf("generation API returned %s", resp.Status())
	}
	text := extractText(&res)
	if text == "" {
		return "", fmt.Errorf("empty candidate in generation response")
	}
	return text, nil
}

func extractText(res *generateResponse) string {
	for _, c := range res.Candidates {
		for _, p := range c.Content.Parts {
			if t := strings.TrimSpace(p.Text); t != "" {
				return t
			}
		}
	}
	return ""
}

// fallback is the narration served when generation is unavailable: the
// stored description when present, otherwise a plain welcome line.
func (n *Narrator) fallback(wp *model.Waypoint) string {
	if wp.Description != "" {
		return wp.Description
	}
	return fmt.Sprintf("Welcome to %s. Take a moment to look around before we continue.", wp.DisplayName())
}
