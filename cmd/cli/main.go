package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
)

const usage = `usage: cli [command] [args]

  (no command)        interactive: prompt for a URL and register it
  list [owner]        list targets
  add <owner> <url>   register a target
  check <id>          probe a target now
  start <id>          resume monitoring
  stop <id>           pause monitoring
  rm <id>             delete a target and its history
  report <owner>      send the owner a report now

env: API_BASE (default http://localhost:8080), API_KEY, OWNER_ID`

type client struct {
	base string
	key  string
	http *http.Client
}

func main() {
	_ = godotenv.Load()
	c := &client{
		base: strings.TrimRight(envOr("API_BASE", "http://localhost:8080"), "/"),
		key:  os.Getenv("API_KEY"),
		http: &http.Client{Timeout: 30 * time.Second},
	}
	if err := c.run(os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func envOr(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func (c *client) run(args []string) error {
	if len(args) == 0 {
		return c.interactive()
	}
	arg := func(i int) (string, error) {
		if len(args) <= i {
			return "", fmt.Errorf("missing argument\n%s", usage)
		}
		return args[i], nil
	}
	switch args[0] {
	case "list":
		owner := ""
		if len(args) > 1 {
			owner = args[1]
		}
		return c.list(owner)
	case "add":
		owner, err := arg(1)
		if err != nil {
			return err
		}
		raw, err := arg(2)
		if err != nil {
			return err
		}
		return c.add(owner, raw)
	case "check", "start", "stop":
		id, err := arg(1)
		if err != nil {
			return err
		}
		return c.print(http.MethodPost, "/api/targets/"+url.PathEscape(id)+"/"+args[0], nil)
	case "rm":
		id, err := arg(1)
		if err != nil {
			return err
		}
		if err := c.do(http.MethodDelete, "/api/targets/"+url.PathEscape(id), nil, nil); err != nil {
			return err
		}
		fmt.Println("Removed.")
		return nil
	case "report":
		owner, err := arg(1)
		if err != nil {
			return err
		}
		return c.print(http.MethodPost, "/api/owners/"+url.PathEscape(owner)+"/report", nil)
	default:
		return fmt.Errorf("unknown command %q\n%s", args[0], usage)
	}
}

func (c *client) interactive() error {
	reader := bufio.NewReader(os.Stdin)
	fmt.Print("Enter a site URL to monitor (e.g., https://example.com): ")
	raw, _ := reader.ReadString('\n')
	owner := os.Getenv("OWNER_ID")
	if owner == "" {
		fmt.Print("Owner id (chat id to notify): ")
		owner, _ = reader.ReadString('\n')
	}
	return c.add(strings.TrimSpace(owner), raw)
}

func (c *client) add(owner, raw string) error {
	raw = strings.TrimSpace(raw)
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	if _, err := url.ParseRequestURI(raw); err != nil {
		return fmt.Errorf("invalid URL %q", raw)
	}
	var t struct {
		ID              string `json:"id"`
		URL             string `json:"url"`
		IntervalSeconds int    `json:"interval_seconds"`
	}
	if err := c.do(http.MethodPost, "/api/targets", map[string]string{"url": raw, "owner_id": owner}, &t); err != nil {
		return err
	}
	fmt.Printf("Added %s (id %s), checked every %ds.\n", t.URL, t.ID, t.IntervalSeconds)
	return nil
}

func (c *client) list(owner string) error {
	path := "/api/targets"
	if owner != "" {
		path += "?owner=" + url.QueryEscape(owner)
	}
	var ts []struct {
		ID               string     `json:"id"`
		URL              string     `json:"url"`
		Status           string     `json:"status"`
		Active           bool       `json:"active"`
		LastCheck        *time.Time `json:"last_check"`
		TotalChecks      int64      `json:"total_checks"`
		SuccessfulChecks int64      `json:"successful_checks"`
	}
	if err := c.do(http.MethodGet, path, nil, &ts); err != nil {
		return err
	}
	if len(ts) == 0 {
		fmt.Println("No targets.")
		return nil
	}
	for _, t := range ts {
		last := "never"
		if t.LastCheck != nil {
			last = humanize.Time(*t.LastCheck)
		}
		state := t.Status
		if !t.Active {
			state += " (paused)"
		}
		uptime := 0.0
		if t.TotalChecks > 0 {
			uptime = float64(t.SuccessfulChecks) / float64(t.TotalChecks) * 100
		}
		fmt.Printf("%s  %-8s %6.2f%%  %s checks  last %s  %s\n",
			t.ID, state, uptime, humanize.Comma(t.TotalChecks), last, t.URL)
	}
	return nil
}

func (c *client) print(method, path string, body any) error {
	var out json.RawMessage
	if err := c.do(method, path, body, &out); err != nil {
		return err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, out, "", "  "); err != nil {
		fmt.Println(string(out))
		return nil
	}
	fmt.Println(buf.String())
	return nil
}

func (c *client) do(method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, c.base+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.key != "" {
		req.Header.Set("X-API-Key", c.key)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("contacting API: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error != "" {
			return fmt.Errorf("API returned %s: %s", resp.Status, e.Error)
		}
		return fmt.Errorf("API returned %s", resp.Status)
	}
	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
