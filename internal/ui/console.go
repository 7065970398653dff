// Package ui provides styled console output for the HPN Relay.
// Verbose runs print every intermediate prompt and provider outcome here.
package ui

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/fatih/color"
)

// ══════════════════════════════════════════════════════════════════════════════
// COLOR DEFINITIONS
// ══════════════════════════════════════════════════════════════════════════════

var (
	// Badge colors
	successBadge = color.New(color.BgGreen, color.FgBlack, color.Bold)
	warningBadge = color.New(color.FgYellow, color.Bold)
	errorBadge   = color.New(color.BgRed, color.FgWhite, color.Bold)
	infoBadge    = color.New(color.FgCyan, color.Bold)
	debugBadge   = color.New(color.FgMagenta)

	// Text colors
	successText = color.New(color.FgGreen, color.Bold)
	warningText = color.New(color.FgYellow)
	errorText   = color.New(color.FgRed)
	infoText    = color.New(color.FgCyan)
	mutedText   = color.New(color.FgHiBlack)
	accentText  = color.New(color.FgMagenta, color.Bold)
	neonBlue    = color.New(color.FgHiCyan, color.Bold)

	// Method colors
	methodPOST   = color.New(color.BgHiMagenta, color.FgBlack, color.Bold)
	methodGET    = color.New(color.BgHiCyan, color.FgBlack, color.Bold)
	methodDELETE = color.New(color.BgHiRed, color.FgBlack, color.Bold)
)

// previewLength caps how much of a prompt or answer is echoed.
const previewLength = 120

// plain writes uncoloured text to the same sink the colours use.
func plain(a ...interface{}) {
	fmt.Fprint(color.Output, a...)
}

// ══════════════════════════════════════════════════════════════════════════════
// RUN TRACE
// ══════════════════════════════════════════════════════════════════════════════

// PrintPrompt echoes an incoming prompt.
// Format: [PROMPT] user=42 mode=fast | text
func PrintPrompt(userID, mode, prompt string) {
	infoBadge.Print("[PROMPT]")
	mutedText.Printf(" user=%s mode=%s | ", userID, mode)
	plain(Preview(prompt), "\n")
}

// PrintOutcome logs one provider result with a kind badge and latency.
// Format: [SUCCESS] provider  123ms | text
func PrintOutcome(provider, kind, detail string, latency time.Duration) {
	switch kind {
	case "success":
		successBadge.Print(" SUCCESS ")
	case "empty":
		warningBadge.Print("[EMPTY]  ")
	default:
		errorBadge.Print(" FAILURE ")
	}
	plain(" ")
	accentText.Printf("%-20s ", provider)
	printLatency(latency)
	if detail != "" {
		mutedText.Print(" | ")
		plain(Preview(detail))
	}
	plain("\n")
}

// PrintWinner logs the provider whose answer was returned.
// Format: 🏁 [WINNER] provider (123ms)
func PrintWinner(provider string, latency time.Duration) {
	plain("🏁 ")
	successBadge.Print(" WINNER ")
	plain(" ")
	successText.Print(provider)
	mutedText.Printf(" (%dms)\n", latency.Milliseconds())
}

// PrintTruncated warns that a prompt was cut to the limit.
func PrintTruncated(limit, dropped int) {
	plain("✂️  ")
	warningBadge.Print("[TRUNCATED]")
	warningText.Printf(" prompt cut to %d characters, %d dropped\n", limit, dropped)
}

// PrintEvictedKey logs when a credential is removed from a pool.
// Format: 💀 [EVICTED] pool key (reason)
func PrintEvictedKey(pool, key, reason string) {
	plain("💀 ")
	errorBadge.Print(" EVICTED ")
	plain(" ")
	infoText.Print(pool + " ")
	errorText.Print(MaskKey(key))
	mutedText.Printf(" (%s)\n", Preview(reason))
}

// PrintRelayInfo logs general relay information.
// Format: [RELAY] message
func PrintRelayInfo(msg string) {
	infoBadge.Print("[RELAY]")
	plain(" ")
	infoText.Println(msg)
}

// ══════════════════════════════════════════════════════════════════════════════
// REQUEST LOGGING
// ══════════════════════════════════════════════════════════════════════════════

// PrintRequest logs an HTTP request with styled output.
func PrintRequest(method, path string, status int, latency time.Duration, requestID string) {
	mutedText.Printf("%s ", time.Now().Format("15:04:05"))

	printMethodBadge(method)
	plain(" ")

	plain(fmt.Sprintf("%-30s ", truncatePath(path, 30)))

	printStatusBadge(status)
	plain(" ")

	printLatency(latency)

	if requestID != "" {
		mutedText.Printf(" id:%s", requestID)
	}
	plain("\n")
}

// printMethodBadge prints the HTTP method with appropriate color.
func printMethodBadge(method string) {
	switch method {
	case "POST":
		methodPOST.Printf(" %s ", method)
	case "GET":
		methodGET.Printf(" %s ", method)
	case "DELETE":
		methodDELETE.Printf(" %s ", method)
	default:
		debugBadge.Printf(" %s ", method)
	}
}

// printStatusBadge prints the status code with appropriate color.
func printStatusBadge(status int) {
	switch {
	case status >= 200 && status < 300:
		successBadge.Printf(" %d ", status)
	case status >= 300 && status < 400:
		infoBadge.Printf(" %d ", status)
	case status >= 400 && status < 500:
		warningBadge.Printf(" %d ", status)
	default:
		errorBadge.Printf(" %d ", status)
	}
}

// printLatency prints latency with color gradient.
// Green: < 1s, Yellow: < 10s, Red: >= 10s
func printLatency(latency time.Duration) {
	ms := latency.Milliseconds()
	latencyStr := fmt.Sprintf("%6dms", ms)

	switch {
	case ms < 1000:
		successText.Print(latencyStr)
	case ms < 10000:
		warningText.Print(latencyStr)
	default:
		errorText.Print(latencyStr)
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// UTILITY FUNCTIONS
// ══════════════════════════════════════════════════════════════════════════════

// MaskKey returns a short masked version of a credential.
// Format: xxxx...xxxx
func MaskKey(key string) string {
	if key == "" {
		return ""
	}
	if len(key) <= 8 {
		return "***"
	}
	return key[:4] + "..." + key[len(key)-4:]
}

// Preview flattens newlines and cuts text to a console-friendly length.
func Preview(text string) string {
	text = strings.ReplaceAll(text, "\n", " ")
	if utf8.RuneCountInString(text) <= previewLength {
		return text
	}
	runes := []rune(text)
	return string(runes[:previewLength-3]) + "..."
}

// truncatePath truncates a path to maxLen characters.
func truncatePath(path string, maxLen int) string {
	if len(path) <= maxLen {
		return path
	}
	return path[:maxLen-3] + "..."
}

// ══════════════════════════════════════════════════════════════════════════════
// STARTUP MESSAGES
// ══════════════════════════════════════════════════════════════════════════════

// PoolSummary is the startup view of one credential pool.
type PoolSummary struct {
	Name   string
	Active int
}

// PrintStartupInfo prints styled server startup information.
func PrintStartupInfo(addr string, pools []PoolSummary, providers int, racePolicy string) {
	plain("\n")
	infoBadge.Print("[RELAY]")
	plain(" Server starting on ")
	neonBlue.Printf("http://%s\n", addr)

	infoBadge.Print("[RELAY]")
	plain(" Pools:")
	for _, p := range pools {
		plain(" " + p.Name + "=")
		if p.Active > 0 {
			successText.Printf("%d", p.Active)
		} else {
			errorText.Printf("%d", p.Active)
		}
	}
	plain(" | Community: ")
	accentText.Printf("%d", providers)
	plain(" | Race: ")
	accentText.Println(racePolicy)

	plain("\n")
	printEndpoints()
}

// printEndpoints prints the available API endpoints.
func printEndpoints() {
	mutedText.Println("  ┌─────────────────────────────────────────────────────────┐")
	printEndpoint(methodPOST, "POST  ", "/v1/ask               ", "Run a prompt through the relay   ")
	printEndpoint(methodPOST, "POST  ", "/v1/summarize         ", "Summarise long text              ")
	printEndpoint(methodPOST, "POST  ", "/v1/moderate          ", "Classify text                    ")
	printEndpoint(methodDELETE, "DELETE", "/v1/history/:user_id  ", "Forget a conversation            ")
	printEndpoint(methodGET, "GET   ", "/health               ", "Health check                     ")
	printEndpoint(methodGET, "GET   ", "/metrics              ", "Prometheus metrics               ")
	mutedText.Println("  └─────────────────────────────────────────────────────────┘")
	plain("\n")
}

func printEndpoint(badge *color.Color, method, path, desc string) {
	mutedText.Print("  │ ")
	badge.Printf(" %s ", method)
	plain(" " + path)
	mutedText.Print(desc)
	mutedText.Println(" │")
}

// PrintShutdown prints a styled shutdown message.
func PrintShutdown() {
	plain("\n")
	warningBadge.Print("[SHUTDOWN]")
	warningText.Println(" Graceful shutdown initiated...")
}

// PrintGoodbye prints a styled goodbye message.
func PrintGoodbye() {
	successBadge.Print(" OK ")
	plain(" ")
	successText.Println("Server stopped. Goodbye! 👋")
}
