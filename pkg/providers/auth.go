package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
)

const (
	authModeAPIKey    = "api_key"
	authModeTokenFile = "token_file"
)

// TokenSource resolves the bearer token for one request.
type TokenSource func(ctx context.Context) (string, error)

// StaticToken serves a configured key. field names the config key in errors.
func StaticToken(value, field string) TokenSource {
	tok := strings.TrimSpace(value)
	return func(context.Context) (string, error) {
		switch {
		case tok == "":
			return "", fmt.Errorf("token is empty for %s", field)
		case isPlaceholderToken(tok):
			return "", fmt.Errorf("token for %s looks like a placeholder (%s); set the real value", field, tok)
		}
		return tok, nil
	}
}

// isPlaceholderToken catches template values such as <API_KEY> or an
// unexpanded ${API_KEY}.
func isPlaceholderToken(tok string) bool {
	return (strings.HasPrefix(tok, "<") && strings.HasSuffix(tok, ">")) ||
		(strings.HasPrefix(tok, "${") && strings.HasSuffix(tok, "}"))
}

// TokenFile rereads path on every request so rotated tokens are picked up.
// The file holds either the raw token or JSON carrying access_token at the
// top level or under "tokens".
func TokenFile(path string) TokenSource {
	resolved := expandHome(path)
	return func(context.Context) (string, error) {
		if resolved == "" {
			return "", errors.New("token file path is empty")
		}
		data, err := os.ReadFile(resolved)
		if err != nil {
			return "", fmt.Errorf("read token file %s: %w", resolved, err)
		}
		return parseTokenFile(resolved, data)
	}
}

func parseTokenFile(path string, data []byte) (string, error) {
	raw := strings.TrimSpace(string(data))
	if raw == "" {
		return "", fmt.Errorf("token file %s is empty", path)
	}
	if raw[0] != '{' {
		return raw, nil
	}
	var doc struct {
		AccessToken string `json:"access_token"`
		Tokens      struct {
			AccessToken string `json:"access_token"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("parse token file %s: %w", path, err)
	}
	if tok := firstNonEmpty(doc.AccessToken, doc.Tokens.AccessToken); tok != "" {
		return tok, nil
	}
	return "", fmt.Errorf("token file %s: missing access_token", path)
}

func setBearer(ctx context.Context, req *http.Request, src TokenSource) error {
	if src == nil {
		return errors.New("auth token source is nil")
	}
	tok, err := src(ctx)
	if err != nil {
		return fmt.Errorf("resolve auth token: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+tok)
	return nil
}

func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
}
