package wit

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

// TokenInfo is the runtime-identity metadata behind an access token.
type TokenInfo struct {
	Appname  string `json:"appname"`
	Username string `json:"username"`
}

// FetchTokenInfo resolves the app behind a token. Used only to build a
// display URL; callers treat failures as "no URL".
func FetchTokenInfo(ctx context.Context, token string, opts ...Option) (TokenInfo, error) {
	e := New(token, nil, opts...)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.baseURL+"/token", nil)
	if err != nil {
		return TokenInfo{}, fmt.Errorf("wit: create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := e.client.Do(req)
	if err != nil {
		return TokenInfo{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return TokenInfo{}, httpError(resp)
	}

	var info TokenInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return TokenInfo{}, fmt.Errorf("wit: decode token info: %w", err)
	}
	return info, nil
}

// InstanceURL builds the console URL for a token's app, or "" when the
// identity is incomplete.
func InstanceURL(info TokenInfo) string {
	if info.Appname == "" || info.Username == "" {
		return ""
	}
	return "https://wit.ai/" + info.Username + "/" + info.Appname
}
