// Package auth drives the interactive OAuth consent flow. It produces a fresh
// token and hands it back to the caller; persistence belongs to credstore.
package auth

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"runtime"
	"time"

	"golang.org/x/oauth2"

	"github.com/cenproject/cen/internal/cenlog"
)

const (
	callbackPath = "/oauth2/callback"

	// How long the console flow waits for the user to complete consent.
	consentTimeout = 5 * time.Minute
)

// Candidate callback ports for the local-server flow, tried in order. Chosen
// to avoid common dev-server ports (3000, 5432, 6379, 8000).
var candidatePorts = []int{8080, 8081, 8082, 8090, 9000, 9001, 9090, 9091}

// ErrNoPortAvailable means every candidate callback port was already bound.
var ErrNoPortAvailable = errors.New("no callback port available: all candidate ports are in use, retry with --console")

// ErrTimeout means the user never completed consent within the wait window.
var ErrTimeout = errors.New("timed out waiting for authorization callback")

// Options controls one interactive authorization.
type Options struct {
	// Console selects the headless flow: an ephemeral port and a printed URL
	// instead of candidate ports and an auto-opened browser.
	Console bool
	// OpenBrowser launches the system browser at the consent URL (local-server
	// flow only, best effort).
	OpenBrowser bool
	// LoginHint pre-selects an account on the Google consent screen.
	LoginHint string
}

// Flow runs the installed-app consent flow against one OAuth2 client.
type Flow struct {
	oauth  *oauth2.Config
	logger cenlog.Logger

	// Seams for tests; production values set by New.
	listen      func(network, addr string) (net.Listener, error)
	openBrowser func(url string) error
	exchange    func(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error)
	newState    func() (string, error)
	timeout     time.Duration
}

// New creates a Flow sharing client id, secret, endpoints, and scopes with cfg.
func New(cfg *oauth2.Config, logger cenlog.Logger) *Flow {
	if logger == nil {
		logger = cenlog.Nop{}
	}
	return &Flow{
		oauth:       cfg,
		logger:      logger,
		listen:      net.Listen,
		openBrowser: openBrowser,
		exchange: func(ctx context.Context, cfg *oauth2.Config, code string) (*oauth2.Token, error) {
			return cfg.Exchange(ctx, code)
		},
		newState: randomState,
		timeout:  consentTimeout,
	}
}

// Authorize runs the consent flow selected by opts and returns a fresh token.
func (f *Flow) Authorize(ctx context.Context, opts Options) (*oauth2.Token, error) {
	listener, err := f.bind(opts.Console)
	if err != nil {
		return nil, err
	}
	defer listener.Close()

	// Pin the redirect to whatever we actually bound.
	cfg := *f.oauth
	cfg.RedirectURL = fmt.Sprintf("http://%s%s", listener.Addr().String(), callbackPath)

	state, err := f.newState()
	if err != nil {
		return nil, fmt.Errorf("generate state token: %w", err)
	}

	authOpts := []oauth2.AuthCodeOption{oauth2.AccessTypeOffline, oauth2.ApprovalForce}
	if opts.LoginHint != "" {
		authOpts = append(authOpts, oauth2.SetAuthURLParam("login_hint", opts.LoginHint))
	}
	authURL := cfg.AuthCodeURL(state, authOpts...)

	if !opts.Console && opts.OpenBrowser {
		if err := f.openBrowser(authURL); err != nil {
			f.logger.Debugw("Failed to open browser", "error", err)
		}
	}

	fmt.Printf("\nPlease visit this URL to authorize the application:\n\n%s\n\nWaiting for authorization...\n", authURL)

	code, err := f.waitForCode(ctx, listener, state, opts.Console)
	if err != nil {
		return nil, err
	}

	// Exchange synchronously; the deferred listener close runs afterwards.
	tok, err := f.exchange(ctx, &cfg, code)
	if err != nil {
		return nil, fmt.Errorf("authorization code exchange: %w", err)
	}

	fmt.Printf("Authorization successful.\n")
	return tok, nil
}

// bind acquires the callback listener. Local-server mode walks the fixed
// candidate port list and takes the first that binds; console mode asks the
// OS for an ephemeral port.
func (f *Flow) bind(console bool) (net.Listener, error) {
	if console {
		listener, err := f.listen("tcp", "127.0.0.1:0")
		if err != nil {
			return nil, fmt.Errorf("bind callback listener: %w", err)
		}
		return listener, nil
	}

	for _, port := range candidatePorts {
		listener, err := f.listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
		if err == nil {
			return listener, nil
		}
	}
	return nil, ErrNoPortAvailable
}

// waitForCode serves the callback endpoint on listener until exactly one
// authorization code arrives or ctx is cancelled. Console mode additionally
// bounds the wait; the local-server flow waits as long as the caller does.
func (f *Flow) waitForCode(ctx context.Context, listener net.Listener, state string, console bool) (string, error) {
	codeCh := make(chan string, 1)
	errCh := make(chan error, 1)

	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path != callbackPath {
				http.NotFound(w, r)
				return
			}

			// CSRF protection
			if r.FormValue("state") != state {
				http.Error(w, "Invalid state parameter", http.StatusBadRequest)
				sendOnce(errCh, fmt.Errorf("oauth state mismatch"))
				return
			}

			if errMsg := r.FormValue("error"); errMsg != "" {
				http.Error(w, fmt.Sprintf("Authorization failed: %s", errMsg), http.StatusBadRequest)
				sendOnce(errCh, fmt.Errorf("oauth provider error: %s", errMsg))
				return
			}

			code := r.FormValue("code")
			if code == "" {
				http.Error(w, "Missing authorization code", http.StatusBadRequest)
				sendOnce(errCh, fmt.Errorf("missing authorization code"))
				return
			}

			w.Header().Set("Content-Type", "text/html")
			fmt.Fprint(w, `<html><body>
				<h1>Authorization Successful!</h1>
				<p>You can close this window and return to the terminal.</p>
			</body></html>`)

			sendOnce(codeCh, code)
		}),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 5 * time.Second,
	}
	defer srv.Close()

	go func() {
		if err := srv.Serve(listener); err != nil && err != http.ErrServerClosed {
			f.logger.Debugw("OAuth callback server stopped", "error", err)
		}
	}()

	waitCtx := ctx
	if console {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, f.timeout)
		defer cancel()
	}

	select {
	case <-waitCtx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", ErrTimeout
	case err := <-errCh:
		return "", err
	case code := <-codeCh:
		return code, nil
	}
}

// sendOnce delivers the first value and drops the rest; repeat callbacks after
// a code was accepted must not block the handler.
func sendOnce[T any](ch chan T, v T) {
	select {
	case ch <- v:
	default:
	}
}

// randomState creates a cryptographically secure state token.
func randomState() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.URLEncoding.EncodeToString(b), nil
}

// openBrowser attempts to open url in the default browser. Best effort.
func openBrowser(url string) error {
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", url)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", url)
	default: // linux and the BSDs
		cmd = exec.Command("xdg-open", url)
	}
	return cmd.Start()
}
