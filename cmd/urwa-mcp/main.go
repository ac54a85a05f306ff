package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"
)

// scrapeRequest mirrors the urwa API request model.
type scrapeRequest struct {
	URL            string `json:"url"`
	Hint           string `json:"hint,omitempty"`
	ForceStrategy  string `json:"force_strategy,omitempty"`
	CSSSelector    string `json:"css_selector,omitempty"`
	TimeoutSeconds int    `json:"timeout_seconds,omitempty"`
	BypassCache    bool   `json:"bypass_cache,omitempty"`
}

// scrapeResponse mirrors the urwa API response model.
type scrapeResponse struct {
	Status       string   `json:"status"`
	URL          string   `json:"url"`
	FinalURL     string   `json:"final_url"`
	Content      string   `json:"content"`
	StrategyUsed string   `json:"strategy_used"`
	Attempts     int      `json:"attempts"`
	FailureKind  string   `json:"failure_kind"`
	TraceID      string   `json:"trace_id"`
	Confidence   *struct {
		Overall  float64  `json:"overall"`
		Warnings []string `json:"warnings"`
	} `json:"confidence"`
}

func main() {
	apiURL := os.Getenv("URWA_API_URL")
	if apiURL == "" {
		apiURL = "http://127.0.0.1:8080"
	}

	s := server.NewMCPServer(
		"urwa",
		"1.0.0",
		server.WithToolCapabilities(false),
	)

	scrapeURLTool := mcp.NewTool("scrape_url",
		mcp.WithDescription("Scrape a web page through the adaptive orchestrator: compliance-gated, rate-controlled, escalating from plain HTTP to a stealth browser as needed. Returns normalized Markdown content."),
		mcp.WithString("url",
			mcp.Required(),
			mcp.Description("The URL of the web page to scrape"),
		),
		mcp.WithString("force_strategy",
			mcp.Description("Pin a single fetch strategy instead of adaptive selection"),
			mcp.Enum("light", "stealth", "ultra"),
		),
		mcp.WithString("css_selector",
			mcp.Description("Only keep elements matching this CSS selector before normalization"),
		),
		mcp.WithBoolean("bypass_cache",
			mcp.Description("Skip the result cache and fetch fresh"),
		),
	)

	s.AddTool(scrapeURLTool, func(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		url, err := req.RequireString("url")
		if err != nil {
			return mcp.NewToolResultError("url is required"), nil
		}

		payload := scrapeRequest{
			URL:           url,
			ForceStrategy: req.GetString("force_strategy", ""),
			CSSSelector:   req.GetString("css_selector", ""),
			BypassCache:   req.GetBool("bypass_cache", false),
		}

		resp, err := callScrape(ctx, apiURL, payload)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}
		if resp.Status != "success" {
			return mcp.NewToolResultError(fmt.Sprintf(
				"scrape failed: %s (attempts=%d, trace=%s)",
				resp.FailureKind, resp.Attempts, resp.TraceID,
			)), nil
		}
		return mcp.NewToolResultText(resp.Content), nil
	})

	if err := server.ServeStdio(s); err != nil {
		fmt.Fprintln(os.Stderr, "server error:", err)
		os.Exit(1)
	}
}

func callScrape(ctx context.Context, apiURL string, payload scrapeRequest) (*scrapeResponse, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL+"/api/v1/scrape", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := &http.Client{Timeout: 300 * time.Second}
	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("calling urwa API: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 20<<20))
	if err != nil {
		return nil, err
	}

	var out scrapeResponse
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decoding response: %w", err)
	}
	return &out, nil
}
