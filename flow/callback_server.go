package flow

import (
	"context"
	"errors"
	"fmt"
	"html"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

// callback is what the provider redirect delivers back to us.
type callback struct {
	code  string
	state string
}

// callbackServer receives the provider redirect on localhost during an
// interactive login.
type callbackServer struct {
	server *http.Server
	addr   string
	ch     chan callback
}

// startCallbackServer binds the redirect target and starts serving. The
// returned server delivers at most one callback on its channel.
func startCallbackServer(port int, path, successURL string) (*callbackServer, error) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	cs := &callbackServer{ch: make(chan callback, 1)}

	router.GET(path, func(c *gin.Context) {
		code := c.Query("code")
		if code == "" {
			c.String(http.StatusBadRequest, "authorization code not found")
			return
		}

		select {
		case cs.ch <- callback{code: code, state: c.Query("state")}:
		default:
			// A code was already delivered; this is a stray replay.
		}

		c.Header("Content-Type", "text/html; charset=utf-8")
		c.String(http.StatusOK, successPage(successURL))
	})

	listener, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	if err != nil {
		return nil, fmt.Errorf("failed to bind callback port %d: %w", port, err)
	}
	cs.addr = listener.Addr().String()

	cs.server = &http.Server{Handler: router}
	go func() {
		if err := cs.server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			// Shutdown races are expected; anything else surfaces on wait.
			_ = err
		}
	}()

	return cs, nil
}

// wait blocks until the redirect arrives, the deadline passes, or ctx is
// cancelled.
func (cs *callbackServer) wait(ctx context.Context) (callback, error) {
	timer := time.NewTimer(AttemptTTL)
	defer timer.Stop()

	select {
	case cb := <-cs.ch:
		return cb, nil
	case <-timer.C:
		return callback{}, errors.New("timeout waiting for authorization code")
	case <-ctx.Done():
		return callback{}, ctx.Err()
	}
}

// shutdown stops the server, releasing the callback port.
func (cs *callbackServer) shutdown(ctx context.Context) {
	_ = cs.server.Shutdown(ctx)
}

// successPage renders the post-authorization page. When a success URL is
// configured the page forwards the browser to it with the success
// indicator; otherwise it just tells the user to return to the app.
func successPage(successURL string) string {
	redirect := ""
	if successURL != "" {
		target := successURL + "?auth=success"
		redirect = fmt.Sprintf(`<meta http-equiv="refresh" content="1;url=%s">`, html.EscapeString(target))
	}

	return fmt.Sprintf(`<!DOCTYPE html>
<html>
<head>
	<title>Authorization Successful</title>
	%s
	<style>
		body { font-family: Arial, sans-serif; text-align: center; padding: 50px; }
		.success { color: #4CAF50; }
		.container { max-width: 600px; margin: 0 auto; }
	</style>
</head>
<body>
	<div class="container">
		<h1 class="success">Authorization Successful!</h1>
		<p>The marketplace connection has been authorized.</p>
		<p>You can close this window and return to the application.</p>
	</div>
</body>
</html>
`, redirect)
}
