package smtp

import (
	"strings"
	"testing"

	"courier/internal/storage"

	"github.com/stretchr/testify/require"
)

func TestRenderWireForm(t *testing.T) {
	raw := string(render(storage.Message{
		Sender:    "demo@example.com",
		Recipient: "kurt@example.com",
		Subject:   "Hello",
		Body:      "Line one\nLine two",
	}))

	head, body, found := strings.Cut(raw, "\r\n\r\n")
	require.True(t, found, "headers and body must be separated by a blank line")
	require.Contains(t, head, "From: demo@example.com\r\n")
	require.Contains(t, head, "To: kurt@example.com\r\n")
	require.Contains(t, head, "Subject: Hello\r\n")
	require.Contains(t, head, "Content-Type: text/plain; charset=utf-8")
	require.Equal(t, "Line one\nLine two\r\n", body)
}

func TestSanitizeHeaderStripsInjection(t *testing.T) {
	got := sanitizeHeader("Hi\r\nBcc: evil@example.com")
	require.NotContains(t, got, "\r")
	require.NotContains(t, got, "\n")
	require.Equal(t, "Hi  Bcc: evil@example.com", got)
}
