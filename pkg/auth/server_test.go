package auth_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/mcp-engine/pkg/auth"
	"github.com/ajitpratap0/mcp-engine/pkg/client"
	"github.com/ajitpratap0/mcp-engine/pkg/connection"
	mcperrors "github.com/ajitpratap0/mcp-engine/pkg/errors"
	"github.com/ajitpratap0/mcp-engine/pkg/protocol"
	"github.com/ajitpratap0/mcp-engine/pkg/server"
	"github.com/ajitpratap0/mcp-engine/pkg/transport"
)

func TestAuthorizedUserReachesHandlers(t *testing.T) {
	srv := server.New(protocol.Implementation{Name: "secure", Version: "1.0.0"}, server.WithTools(false))
	srv.Handle(protocol.MethodCallTool, func(ctx context.Context, req *connection.Request) (interface{}, error) {
		user, ok := auth.UserInfoFromContext(ctx)
		if !ok {
			return nil, mcperrors.InvalidRequest("no user")
		}
		return map[string]string{"user": user.Username}, nil
	})

	validate := func(ctx context.Context, token string) (*auth.UserInfo, error) {
		if token == "s3cret" {
			return &auth.UserInfo{ID: "42", Username: "alice"}, nil
		}
		return nil, nil
	}
	handler, err := srv.HTTPHandler(transport.WithAuthorizer(auth.Bearer(validate,
		auth.WithResourceMetadata("https://example.com/.well-known/oauth-protected-resource"))))
	require.NoError(t, err)
	ts := httptest.NewServer(handler)
	t.Cleanup(func() {
		_ = handler.Close()
		ts.Close()
	})

	t.Run("rejected without token", func(t *testing.T) {
		body := `{"jsonrpc":"2.0","id":1,"method":"ping"}`
		req, err := http.NewRequest(http.MethodPost, ts.URL, strings.NewReader(body))
		require.NoError(t, err)
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json, text/event-stream")
		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)
		defer resp.Body.Close()

		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		assert.Equal(t, `Bearer resource_metadata="https://example.com/.well-known/oauth-protected-resource"`,
			resp.Header.Get(transport.HeaderAuthenticate))
	})

	t.Run("admitted with token", func(t *testing.T) {
		ct := transport.NewStreamableClient(ts.URL,
			transport.WithHeader("Authorization", "Bearer s3cret"),
			transport.WithoutListener())
		c := client.New(ct, protocol.Implementation{Name: "tester", Version: "1.0.0"})
		t.Cleanup(func() { _ = c.Close() })

		_, err := c.Initialize(context.Background())
		require.NoError(t, err)

		var out map[string]string
		require.NoError(t, c.Call(context.Background(), protocol.MethodCallTool,
			protocol.CallToolParams{Name: "whoami"}, &out))
		assert.Equal(t, "alice", out["user"])
	})
}
