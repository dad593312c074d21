package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"miku/bus"
	"miku/chat"
	"miku/config"
	"miku/logging"
	"miku/server"
	"miku/storage"
	"miku/ui"
)

const Version = "0.1.0"

func usage() {
	fmt.Fprintf(os.Stderr, "Usage:\n"+
		"  miku [flags]              start the chat client\n"+
		"  miku [flags] open SLUG    start the chat client on a chat\n"+
		"  miku [flags] serve        run the completion relay\n"+
		"  miku [flags] import FILE  import a chat exported as JSON\n"+
		"  miku [flags] search TEXT  find messages containing TEXT\n\nFlags:\n")
	flag.PrintDefaults()
}

func main() {
	debugFlag := flag.Bool("debug", false, "enable debug logging")
	versionFlag := flag.Bool("version", false, "print the version and exit")
	flag.Usage = usage
	flag.Parse()

	if *versionFlag {
		fmt.Println("miku", Version)
		return
	}

	cfg, err := config.Load()
	if err != nil {
		showFatal("Configuration Error", fmt.Sprintf("Failed to load config:\n\n%v", err))
		os.Exit(1)
	}
	if *debugFlag {
		cfg.Debug = true
	}

	switch flag.Arg(0) {
	case "":
		os.Exit(runClient(cfg, ""))
	case "open":
		if flag.NArg() != 2 {
			usage()
			os.Exit(2)
		}
		os.Exit(runClient(cfg, flag.Arg(1)))
	case "serve":
		os.Exit(runRelay(cfg))
	case "import", "search":
		if flag.NArg() < 2 {
			usage()
			os.Exit(2)
		}
		os.Exit(runStoreCommand(cfg, flag.Arg(0), strings.Join(flag.Args()[1:], " ")))
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n", flag.Arg(0))
		usage()
		os.Exit(2)
	}
}

func runRelay(cfg *config.Config) int {
	logger, err := logging.New(logging.Options{
		Path:      cfg.LogPath(),
		Stderr:    true,
		Debug:     cfg.Debug,
		Component: "relay",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}

	app := fx.New(server.Module(cfg, logger))
	if err := app.Err(); err != nil {
		logger.Error("relay failed to start", zap.Error(err))
		_ = logger.Sync()
		return 1
	}
	app.Run()
	return 0
}

func runClient(cfg *config.Config, slug string) int {
	logger, err := logging.New(logging.Options{
		Path:      cfg.LogPath(),
		Debug:     cfg.Debug,
		Component: "client",
	})
	if err != nil {
		showFatal("Logging Error", err.Error())
		return 1
	}
	defer func() { _ = logger.Sync() }()

	events := bus.New()
	store, err := storage.Open(cfg.DataDir(), events, logger)
	if err != nil {
		logger.Error("failed to open store", zap.Error(err))
		showFatal("Storage Error", fmt.Sprintf("Failed to open the chat store in %s:\n\n%v", cfg.DataDir(), err))
		return 1
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		if err := store.Watch(ctx, 0); err != nil {
			logger.Warn("store watch stopped", zap.Error(err))
		}
	}()

	relay := chat.NewRelayClient(cfg.Relay.URL, cfg.Relay.Token, nil, logger)
	ctrl := chat.NewController(store.Conversations, store.Counter, store.Preferences, relay, chat.Options{
		Limit:  cfg.Chat.QuestionLimit,
		Bus:    events,
		Logger: logger,
	})

	logger.Info("client starting",
		zap.String("version", Version),
		zap.String("relay", cfg.Relay.URL),
		zap.String("data_dir", cfg.DataDir()))

	view := ui.NewAppView(ui.Deps{
		Store:       store,
		Controller:  ctrl,
		Bus:         events,
		Images:      relay,
		DownloadDir: cfg.DownloadDir(),
		Logger:      logger,
		Version:     Version,
		Slug:        slug,
		Clipboard:   clipboard.WriteAll,
	})
	defer view.Close()

	p := tea.NewProgram(view, tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		logger.Error("ui exited", zap.Error(err))
		fmt.Fprintf(os.Stderr, "Error running miku: %v\n", err)
		return 1
	}
	return 0
}

// runStoreCommand runs a one-shot command against the local store.
func runStoreCommand(cfg *config.Config, cmd, arg string) int {
	store, err := storage.Open(cfg.DataDir(), nil, nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	switch cmd {
	case "import":
		rec, err := store.Conversations.ImportFromJSON(config.ExpandPath(arg))
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Printf("imported %q as %s\n", storage.DisplayTitle(*rec), rec.Slug)
	case "search":
		matches, err := store.Conversations.SearchMessages(arg)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		for _, m := range matches {
			fmt.Printf("%s [%s #%d] %s\n", m.Slug, m.Role, m.MessageIndex, m.Preview)
		}
		if len(matches) == 0 {
			fmt.Println("no matches")
		}
	}
	return 0
}

// showFatal explains a startup failure in a modal before exiting.
func showFatal(title, message string) {
	p := tea.NewProgram(ui.NewErrorModal(title, message), tea.WithAltScreen())
	if _, err := p.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
	}
}
