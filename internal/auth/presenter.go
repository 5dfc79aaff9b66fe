package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

// Prompt is what the consent UI shows the user.
type Prompt struct {
	UserCode        string
	VerificationURI string
	// CallbackURL is where the UI should POST once the user has finished.
	CallbackURL string
	ExpiresIn   time.Duration
}

// Presenter shows a Prompt to a human. The returned release func tears down
// anything the presenter created (temp pages, windows) and is always called,
// whether the flow succeeds or not.
type Presenter interface {
	Present(ctx context.Context, p Prompt) (release func(), err error)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(ctx context.Context, p Prompt) (func(), error)

func (f PresenterFunc) Present(ctx context.Context, p Prompt) (func(), error) { return f(ctx, p) }

// ConsolePresenter prints the code and verification URL and optionally opens
// the URL in the default browser.
type ConsolePresenter struct {
	Out         io.Writer
	OpenBrowser bool
	// Opener overrides the platform browser launcher.
	Opener func(url string) error
}

func (c ConsolePresenter) Present(_ context.Context, p Prompt) (func(), error) {
	if c.Out == nil {
		return nil, errors.New("auth: console presenter has no output")
	}
	fmt.Fprintf(c.Out, "To authorize this device, open:\n  %s\nand enter the code: %s\n", p.VerificationURI, p.UserCode)
	if p.ExpiresIn > 0 {
		fmt.Fprintf(c.Out, "The code expires in %s.\n", p.ExpiresIn.Round(time.Second))
	}
	if p.CallbackURL != "" {
		fmt.Fprintf(c.Out, "Waiting for approval (a consent page may confirm via %s).\n", p.CallbackURL)
	}
	if c.OpenBrowser {
		open := c.Opener
		if open == nil {
			open = openBrowser
		}
		// The URL is already printed.
		if err := open(p.VerificationURI); err != nil {
			log.Debug().Err(err).Msg("could not open browser")
		}
	}
	return func() {}, nil
}

func openBrowser(target string) error {
	target = strings.TrimSpace(target)
	if target == "" {
		return errors.New("empty url")
	}
	var cmd *exec.Cmd
	switch runtime.GOOS {
	case "darwin":
		cmd = exec.Command("open", target)
	case "windows":
		cmd = exec.Command("rundll32", "url.dll,FileProtocolHandler", target)
	default:
		cmd = exec.Command("xdg-open", target)
	}
	return cmd.Start()
}
