package site

import (
	"bytes"
	"strings"
	"testing"

	"github.com/martinsuchenak/beacond/internal/model"
)

func TestPrintMetadata(t *testing.T) {
	var buf bytes.Buffer
	printMetadata(&buf, &model.SiteMetadata{
		URL:         "http://example.com",
		Title:       "Example",
		Description: "An example",
		FaviconURL:  model.DefaultFaviconURL,
		RawContent:  "<html></html>",
	})

	out := buf.String()
	for _, want := range []string{"http://example.com", "Example", "An example", "/favicon.ico", "Body bytes:  13"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestCommands(t *testing.T) {
	cmds := Commands()
	if len(cmds) != 1 || cmds[0].Name != "fetch" {
		t.Errorf("Unexpected commands %+v", cmds)
	}
}
