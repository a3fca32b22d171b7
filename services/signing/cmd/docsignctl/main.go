// Command docsignctl checks signing evidence offline: file hashes, exported
// signature events and received webhook deliveries.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/canonhash"
	wire "github.com/R-M-Tejaswini/docsign-v1-sub000/pkg/webhooks"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/audit"
	"github.com/R-M-Tejaswini/docsign-v1-sub000/services/signing/internal/domain"
)

const usage = "usage: docsignctl hash --file <path> | docsignctl event verify --event <path> [--source <pdf>] | docsignctl webhook verify --body <path> --secret <secret> --signature <hex>"

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	if len(args) < 1 {
		fail(out, "", usage)
		return 2
	}
	switch args[0] {
	case "hash":
		return runHash(args[1:], out)
	case "event":
		if len(args) < 2 || args[1] != "verify" {
			fail(out, "event", usage)
			return 2
		}
		return runEventVerify(args[2:], out)
	case "webhook":
		if len(args) < 2 || args[1] != "verify" {
			fail(out, "webhook", usage)
			return 2
		}
		return runWebhookVerify(args[2:], out)
	default:
		fail(out, "", "unknown command")
		return 2
	}
}

func runHash(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("hash", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	path := fs.String("file", "", "file to hash")
	if err := fs.Parse(args); err != nil || strings.TrimSpace(*path) == "" {
		fail(out, "hash", "--file is required")
		return 2
	}
	f, err := os.Open(*path)
	if err != nil {
		fail(out, "hash", "open file failed: "+err.Error())
		return 1
	}
	defer f.Close()
	sum, err := canonhash.SumReader(f)
	if err != nil {
		fail(out, "hash", "read file failed: "+err.Error())
		return 1
	}
	pass(out, "hash", map[string]any{"file": *path, "sha256": sum, "digest": canonhash.WithPrefix(sum)})
	return 0
}

// runEventVerify recomputes the event hash of an exported signature event
// and, with --source, checks the recorded document hash against the file.
func runEventVerify(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("event verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	eventPath := fs.String("event", "", "signature event json")
	sourcePath := fs.String("source", "", "original document file")
	if err := fs.Parse(args); err != nil || strings.TrimSpace(*eventPath) == "" {
		fail(out, "event verify", "--event is required")
		return 2
	}
	raw, err := os.ReadFile(*eventPath)
	if err != nil {
		fail(out, "event verify", "read event failed: "+err.Error())
		return 1
	}
	var ev domain.SignatureEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		fail(out, "event verify", "decode event failed: "+err.Error())
		return 1
	}
	computed, err := audit.EventHash(ev)
	if err != nil {
		fail(out, "event verify", err.Error())
		return 1
	}
	details := map[string]any{
		"event_id":            ev.ID,
		"stored_event_hash":   ev.EventHash,
		"computed_event_hash": computed,
	}
	var problems []string
	if !canonhash.Equal(ev.EventHash, computed) {
		problems = append(problems, "event hash mismatch")
	}
	if *sourcePath != "" {
		src, err := os.ReadFile(*sourcePath)
		if err != nil {
			fail(out, "event verify", "read source failed: "+err.Error())
			return 1
		}
		sum := canonhash.SumBytes(src)
		details["source_sha256"] = sum
		if !canonhash.Equal(ev.DocumentSHA256, sum) {
			problems = append(problems, "document hash mismatch")
		}
	}
	if len(problems) > 0 {
		details["reason"] = strings.Join(problems, "; ")
		summary(out, "event verify", "FAIL", details)
		return 1
	}
	pass(out, "event verify", details)
	return 0
}

func runWebhookVerify(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("webhook verify", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	bodyPath := fs.String("body", "", "raw request body")
	secret := fs.String("secret", "", "webhook secret")
	signature := fs.String("signature", "", "value of the "+wire.SignatureHeader+" header")
	eventType := fs.String("event-type", "", "value of the "+wire.EventHeader+" header")
	if err := fs.Parse(args); err != nil || *bodyPath == "" || *secret == "" || *signature == "" {
		fail(out, "webhook verify", "--body, --secret and --signature are required")
		return 2
	}
	body, err := os.ReadFile(*bodyPath)
	if err != nil {
		fail(out, "webhook verify", "read body failed: "+err.Error())
		return 1
	}
	h := http.Header{}
	h.Set(wire.SignatureHeader, *signature)
	if *eventType != "" {
		h.Set(wire.EventHeader, *eventType)
	}
	res, err := wire.Verify(h, body, *secret)
	if err != nil {
		fail(out, "webhook verify", err.Error())
		return 2
	}
	details := map[string]any{"scheme": res.Scheme, "event_type": res.EventType, "details": res.Details}
	if !res.Valid {
		details["reason"] = "signature mismatch"
		summary(out, "webhook verify", "FAIL", details)
		return 1
	}
	pass(out, "webhook verify", details)
	return 0
}

func pass(out io.Writer, command string, details map[string]any) {
	summary(out, command, "PASS", details)
}

func fail(out io.Writer, command, reason string) {
	summary(out, command, "FAIL", map[string]any{"reason": reason})
}

func summary(out io.Writer, command, status string, details map[string]any) {
	line := map[string]any{"command": command, "status": status, "timestamp_utc": time.Now().UTC().Format(time.RFC3339)}
	for k, v := range details {
		line[k] = v
	}
	b, _ := json.Marshal(line)
	fmt.Fprintln(out, string(b))
}
