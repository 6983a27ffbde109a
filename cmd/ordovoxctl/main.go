// Command ordovoxctl is a small operator CLI for the Ordovox admin API.
//
// Usage:
//
//	ordovoxctl [-addr http://localhost:9090] list
//	ordovoxctl [-addr ...] recent [-limit 50]
//	ordovoxctl [-addr ...] cancel <call-id>
//	ordovoxctl [-addr ...] reap [-older-than 30m]
//
// Exit codes: 0 on success, 1 on transport or usage errors, 2 when the
// target call does not exist, 3 when the server refuses for capacity or
// availability reasons.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"text/tabwriter"
	"time"
)

const defaultAddr = "http://localhost:9090"

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(args []string) int {
	global := flag.NewFlagSet("ordovoxctl", flag.ContinueOnError)
	addr := global.String("addr", defaultAddr, "admin API base URL")
	global.Usage = usage
	if err := global.Parse(args); err != nil {
		return 1
	}
	rest := global.Args()
	if len(rest) == 0 {
		usage()
		return 1
	}

	c := &client{base: *addr, http: &http.Client{Timeout: 10 * time.Second}, out: os.Stdout}

	switch rest[0] {
	case "list":
		return c.list()
	case "recent":
		fs := flag.NewFlagSet("recent", flag.ContinueOnError)
		limit := fs.Int("limit", 50, "maximum number of calls to show")
		if err := fs.Parse(rest[1:]); err != nil {
			return 1
		}
		return c.recent(*limit)
	case "cancel":
		if len(rest) != 2 {
			fmt.Fprintln(os.Stderr, "usage: ordovoxctl cancel <call-id>")
			return 1
		}
		return c.cancel(rest[1])
	case "reap":
		fs := flag.NewFlagSet("reap", flag.ContinueOnError)
		olderThan := fs.Duration("older-than", 30*time.Minute, "reap calls older than this")
		if err := fs.Parse(rest[1:]); err != nil {
			return 1
		}
		return c.reap(*olderThan)
	default:
		fmt.Fprintf(os.Stderr, "ordovoxctl: unknown command %q\n", rest[0])
		usage()
		return 1
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: ordovoxctl [-addr URL] <command>

commands:
  list                    show live calls
  recent [-limit N]       show recently ended calls
  cancel <call-id>        request cancellation of a live call
  reap [-older-than D]    evict calls older than the given duration`)
}

type client struct {
	base string
	http *http.Client
	out  io.Writer
}

// get issues a request and decodes the JSON body into out. Non-2xx statuses
// are returned as errors carrying the status code.
func (c *client) do(method, path string, query url.Values, out any) (int, error) {
	u := c.base + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	req, err := http.NewRequest(method, u, nil)
	if err != nil {
		return 0, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return resp.StatusCode, fmt.Errorf("%s: %s", resp.Status, string(body))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

func (c *client) list() int {
	var body struct {
		Count int `json:"count"`
		Calls []struct {
			CallID    string    `json:"call_id"`
			Phone     string    `json:"phone"`
			StartedAt time.Time `json:"started_at"`
			Age       string    `json:"age"`
		} `json:"active"`
	}
	if status, err := c.do(http.MethodGet, "/admin/calls", nil, &body); err != nil {
		fmt.Fprintf(os.Stderr, "ordovoxctl: %v\n", err)
		return exitCode(status)
	}
	if body.Count == 0 {
		fmt.Fprintln(c.out, "no live calls")
		return 0
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL ID\tFROM\tSTARTED\tAGE")
	for _, call := range body.Calls {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			call.CallID, call.Phone, call.StartedAt.Format(time.TimeOnly), call.Age)
	}
	w.Flush()
	return 0
}

func (c *client) recent(limit int) int {
	var body struct {
		Calls []struct {
			CallID   string `json:"call_id"`
			From     string `json:"from"`
			Status   string `json:"status"`
			OrderID  string `json:"order_id"`
			Duration string `json:"duration"`
		} `json:"calls"`
	}
	q := url.Values{"limit": {strconv.Itoa(limit)}}
	if status, err := c.do(http.MethodGet, "/admin/calls/recent", q, &body); err != nil {
		fmt.Fprintf(os.Stderr, "ordovoxctl: %v\n", err)
		return exitCode(status)
	}
	if len(body.Calls) == 0 {
		fmt.Fprintln(c.out, "no recent calls")
		return 0
	}
	w := tabwriter.NewWriter(c.out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CALL ID\tFROM\tSTATUS\tORDER\tDURATION")
	for _, call := range body.Calls {
		orderID := call.OrderID
		if orderID == "" {
			orderID = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
			call.CallID, call.From, call.Status, orderID, call.Duration)
	}
	w.Flush()
	return 0
}

func (c *client) cancel(callID string) int {
	status, err := c.do(http.MethodDelete, "/admin/calls/"+url.PathEscape(callID), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ordovoxctl: %v\n", err)
		return exitCode(status)
	}
	fmt.Fprintf(c.out, "cancellation requested for %s\n", callID)
	return 0
}

func (c *client) reap(olderThan time.Duration) int {
	var body struct {
		Reaped    int    `json:"reaped"`
		OlderThan string `json:"older_than"`
	}
	q := url.Values{"older_than": {olderThan.String()}}
	if status, err := c.do(http.MethodPost, "/admin/reap", q, &body); err != nil {
		fmt.Fprintf(os.Stderr, "ordovoxctl: %v\n", err)
		return exitCode(status)
	}
	fmt.Fprintf(c.out, "reaped %d call(s) older than %s\n", body.Reaped, body.OlderThan)
	return 0
}

// exitCode maps HTTP failure statuses to the documented exit codes.
func exitCode(status int) int {
	switch status {
	case http.StatusNotFound:
		return 2
	case http.StatusServiceUnavailable, http.StatusTooManyRequests:
		return 3
	default:
		return 1
	}
}
