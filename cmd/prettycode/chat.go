package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/ergochat/readline"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/bazelment/prettycode/config"
	"github.com/bazelment/prettycode/render"
	"github.com/bazelment/prettycode/session"
	"github.com/bazelment/prettycode/store"
	"github.com/bazelment/prettycode/transport"
)

var (
	chatServer   string
	chatResume   string
	chatContinue bool
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Start an interactive chat",
	Long: `Chat connects to a bridge server and streams responses as they
arrive. Ctrl-C stops the current response; Ctrl-D or /quit exits.
Type /help for commands.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if chatServer != "" {
			cfg.ServerURL = chatServer
		}
		if err := cfg.Validate(); err != nil {
			return err
		}
		return runChat(cmd.Context(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().StringVar(&chatServer, "server", "", "Bridge websocket URL (default from config)")
	chatCmd.Flags().StringVar(&chatResume, "resume", "", "Resume the conversation with this ID")
	chatCmd.Flags().BoolVarP(&chatContinue, "continue", "c", false, "Resume the most recently active conversation")
}

func runChat(ctx context.Context, cfg *config.Config) error {
	// Log lines would tear the prompt, so stderr only gets them with -v.
	var stderr io.Writer = io.Discard
	if verbose {
		stderr = os.Stderr
	}
	logger, closeLog, err := newLogger(cfg, stderr)
	if err != nil {
		return err
	}
	defer closeLog()

	st, err := store.NewStore(cfg.StoreDir,
		store.WithMaxConversations(cfg.MaxConversations),
		store.WithLogger(logger),
	)
	if err != nil {
		return err
	}
	ch := transport.New(cfg.ServerURL,
		transport.WithLogger(logger),
		transport.WithReconnectDelay(cfg.ReconnectDelay),
	)
	ctrl := session.New(ch, st,
		session.WithLogger(logger),
		session.WithPersistDebounce(cfg.PersistDebounce),
		session.WithOfflineNoticeDelay(cfg.OfflineNoticeDelay),
	)
	defer ctrl.Close()

	resume := chatResume
	if resume == "" && chatContinue {
		resume = st.CurrentID()
	}
	if resume != "" {
		if err := ctrl.LoadConversation(resume); err != nil {
			return err
		}
	} else {
		st.NewConversation()
	}

	rl, err := readline.NewFromConfig(&readline.Config{
		Prompt:          "› ",
		HistoryFile:     filepath.Join(filepath.Dir(cfg.StoreDir), "history"),
		InterruptPrompt: "^C",
		EOFPrompt:       "/quit",
	})
	if err != nil {
		return fmt.Errorf("failed to initialize line editor: %w", err)
	}
	defer rl.Close()

	r, err := render.New(terminalWidth(), markdownStyle())
	if err != nil {
		return err
	}
	p := newPrinter(rl.Stdout(), r)
	refresh := func() {
		p.update(ctrl.Transcript(), ctrl.IsStreaming(), ctrl.Status(), ctrl.ConversationID())
	}

	ctrl.Start()
	refresh()

	var wg sync.WaitGroup
	done := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-ctrl.Updates():
				refresh()
			case <-done:
				return
			}
		}
	}()
	defer func() {
		close(done)
		wg.Wait()
	}()

	for ctx.Err() == nil {
		line, err := rl.ReadLine()
		if errors.Is(err, readline.ErrInterrupt) {
			if ctrl.IsStreaming() {
				ctrl.Stop()
			}
			continue
		}
		if err != nil {
			return nil
		}
		if execLine(ctrl, st, p, line) {
			return nil
		}
	}
	return nil
}

func terminalWidth() int {
	if w, _, err := term.GetSize(int(os.Stdout.Fd())); err == nil && w > 0 {
		return w
	}
	return 80
}

func markdownStyle() string {
	if term.IsTerminal(int(os.Stdout.Fd())) {
		return "auto"
	}
	return "notty"
}
