package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/hyperifyio/chatbroker/internal/app"
)

func newLoginCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "login",
		Short: "Authorize this device and store the credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			cred, err := a.Login(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Logged in (scope %q).\n", cred.Scope)
			return nil
		},
	}
}

func newLogoutCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Forget the stored credential",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			if err := a.Logout(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Logged out.")
			return nil
		},
	}
}

func newTokenCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Obtain a short-lived token and print its masked value and expiry",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			tok, err := a.Token(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "token %s expires %s (in %s)\n",
				mask(tok.Value), tok.ExpiresAt.Format(time.RFC3339), time.Until(tok.ExpiresAt).Round(time.Second))
			return nil
		},
	}
}

// mask keeps a short prefix so tokens can be told apart without leaking them.
func mask(s string) string {
	const keep = 6
	if len(s) <= keep {
		return strings.Repeat("*", len(s))
	}
	return s[:keep] + strings.Repeat("*", 8)
}

type chatFlags struct {
	model       string
	system      string
	stream      bool
	temperature float32
	maxTokens   int
	toolsPath   string
	toolChoice  string
	asJSON      bool
}

func newChatCmd(g *globalFlags) *cobra.Command {
	f := &chatFlags{}
	cmd := &cobra.Command{
		Use:   "chat [prompt...]",
		Short: "Send one prompt; reads stdin when no prompt is given",
		RunE: func(cmd *cobra.Command, args []string) error {
			prompt, err := readPrompt(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}
			opts := app.ChatOptions{
				System:      f.system,
				Prompt:      prompt,
				Model:       f.model,
				Stream:      f.stream,
				Temperature: f.temperature,
				MaxTokens:   f.maxTokens,
			}
			if f.toolsPath != "" {
				tools, err := app.LoadTools(f.toolsPath)
				if err != nil {
					return err
				}
				opts.Tools = tools
				opts.ToolChoice = app.ParseToolChoice(f.toolChoice)
			}

			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			text := out
			if f.asJSON {
				text = io.Discard
			}
			c, err := a.Chat(cmd.Context(), opts, text)
			if err != nil {
				return err
			}
			if f.asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(c)
			}
			if c.Content != "" {
				fmt.Fprintln(out)
			}
			for _, tc := range c.ToolCalls {
				fmt.Fprintf(out, "tool call %s: %s(%s)\n", tc.ID, tc.Function.Name, tc.Function.Arguments)
			}
			return nil
		},
	}
	fl := cmd.Flags()
	fl.StringVar(&f.model, "model", "", "Model name (default from config or "+app.EnvModel+")")
	fl.StringVar(&f.system, "system", "", "Optional system prompt")
	fl.BoolVar(&f.stream, "stream", true, "Stream the reply as it is generated")
	fl.Float32Var(&f.temperature, "temperature", 0, "Sampling temperature (0 uses the provider default)")
	fl.IntVar(&f.maxTokens, "max-tokens", 0, "Maximum tokens to generate (0 uses the provider default)")
	fl.StringVar(&f.toolsPath, "tools", "", "YAML or JSON file with tool definitions")
	fl.StringVar(&f.toolChoice, "tool-choice", "", "auto, none, required, or a tool name to force")
	fl.BoolVar(&f.asJSON, "json", false, "Print the collected completion as JSON")
	return cmd
}

func readPrompt(in io.Reader, args []string) (string, error) {
	if len(args) > 0 && !(len(args) == 1 && args[0] == "-") {
		return strings.Join(args, " "), nil
	}
	b, err := io.ReadAll(io.LimitReader(in, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read prompt: %w", err)
	}
	prompt := strings.TrimSpace(string(b))
	if prompt == "" {
		return "", errors.New("chat: empty prompt")
	}
	return prompt, nil
}

func newModelsCmd(g *globalFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "models",
		Short: "List models offered by the provider",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := g.open(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			ids, err := a.Models(cmd.Context())
			if err != nil {
				return err
			}
			for _, id := range ids {
				fmt.Fprintln(cmd.OutOrStdout(), id)
			}
			return nil
		},
	}
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print build information",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintln(cmd.OutOrStdout(), app.VersionString())
		},
	}
}
