package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strings"

	tea "github.com/charmbracelet/bubbletea"
	flag "github.com/spf13/pflag"

	"convo/app"
	"convo/config"
	"convo/provider"
	"convo/storage"
	"convo/ui"
)

const Version = "v0.1.0"

type options struct {
	provider  string
	model     string
	prompt    string
	system    string
	session   string
	export    string
	search    string
	setKey    string
	noStream  bool
	list      bool
	providers bool
	version   bool
}

func parseFlags(args []string) (options, error) {
	var o options
	fs := flag.NewFlagSet("convo", flag.ContinueOnError)
	fs.StringVarP(&o.provider, "provider", "p", "", "provider ID from config.toml (default: default_provider)")
	fs.StringVarP(&o.model, "model", "m", "", "model to use instead of the configured one")
	fs.StringVar(&o.prompt, "prompt", "", "send one message, print the reply and exit (\"-\" reads stdin)")
	fs.StringVar(&o.system, "system", "", "system prompt for a new conversation")
	fs.StringVarP(&o.session, "session", "s", "", "resume a saved conversation by ID, or \"last\"")
	fs.StringVar(&o.export, "export", "", "export the --session conversation to a .json or .yaml file and exit")
	fs.StringVar(&o.search, "search", "", "search saved conversations and exit")
	fs.StringVar(&o.setKey, "set-key", "", "store the API key read from stdin for a provider and exit (empty input removes it)")
	fs.BoolVar(&o.noStream, "no-stream", false, "wait for complete replies instead of streaming")
	fs.BoolVarP(&o.list, "list", "l", false, "list saved conversations and exit")
	fs.BoolVar(&o.providers, "providers", false, "list the enabled providers and exit")
	fs.BoolVarP(&o.version, "version", "v", false, "print the version and exit")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	if o.export != "" && o.session == "" {
		o.session = "last"
	}
	return o, nil
}

func main() {
	opts, err := parseFlags(os.Args[1:])
	if err != nil {
		if err == flag.ErrHelp {
			os.Exit(0)
		}
		os.Exit(2)
	}
	if opts.version {
		fmt.Println("convo", Version)
		return
	}

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Initialize debug logging after config is loaded
	config.InitDebugLog(cfg.DataDir())

	if err := unlockCredentials(cfg); err != nil {
		return err
	}
	if opts.setKey != "" {
		return setKey(cfg, opts.setKey, os.Stdin)
	}
	if opts.providers {
		return listProviders(cfg, os.Stdout)
	}

	sessionStorage, err := storage.NewSessionStorage(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to initialize session storage: %w", err)
	}

	switch {
	case opts.list:
		return listSessions(sessionStorage, os.Stdout)
	case opts.search != "":
		return searchSessions(sessionStorage, opts.search, os.Stdout)
	}

	var resumed *storage.Session
	if opts.session != "" {
		resumed, err = app.Resume(sessionStorage, opts.session)
		if err != nil {
			return err
		}
	}

	if opts.export != "" {
		if err := sessionStorage.Export(resumed.ID, config.ExpandPath(opts.export)); err != nil {
			return err
		}
		fmt.Printf("Exported %s to %s\n", resumed.Name, opts.export)
		return nil
	}

	providerID := opts.provider
	if providerID == "" {
		providerID = cfg.DefaultProvider
		if resumed != nil && resumed.Provider != "" {
			providerID = resumed.Provider
		}
	}
	p, err := provider.NewProviderFromConfig(cfg, providerID, opts.model)
	if err != nil {
		return err
	}

	ledger, err := storage.NewUsageLedger(cfg.DataDir())
	if err != nil {
		return fmt.Errorf("failed to open usage ledger: %w", err)
	}
	defer ledger.Close()

	session := app.New(app.Options{
		Config:       cfg,
		Provider:     p,
		Store:        sessionStorage,
		Ledger:       ledger,
		SystemPrompt: opts.system,
		Resume:       resumed,
	})
	if opts.model != "" {
		session.SwitchModel(opts.model)
	}

	if err := session.Lock(); err != nil {
		return fmt.Errorf("failed to lock session: %w", err)
	}
	defer func() {
		if err := session.Unlock(); err != nil && config.DebugLog != nil {
			config.DebugLog.Printf("Warning: failed to unlock session: %v", err)
		}
	}()

	stream := cfg.Stream && !opts.noStream

	if opts.prompt != "" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()

		input, err := readPrompt(opts.prompt, os.Stdin)
		if err != nil {
			return err
		}
		return oneShot(ctx, session, input, stream, os.Stdout)
	}

	program := tea.NewProgram(ui.NewChatView(session, stream), tea.WithAltScreen())
	if _, err := program.Run(); err != nil {
		return fmt.Errorf("error running convo: %w", err)
	}
	return nil
}

// oneShot sends input and writes the reply to w as it arrives.
func oneShot(ctx context.Context, session *app.Session, input string, stream bool, w io.Writer) error {
	if !stream {
		reply, err := session.Send(ctx, input)
		if err != nil {
			return err
		}
		fmt.Fprintln(w, reply)
		return nil
	}

	s := session.Stream(ctx, input)
	for _, fragment := range s.All() {
		fmt.Fprint(w, fragment)
	}
	fmt.Fprintln(w)
	if err := s.Err(); err != nil {
		session.DiscardInput()
		return err
	}
	return session.Commit(true)
}

func readPrompt(prompt string, stdin io.Reader) (string, error) {
	if prompt != "-" {
		return prompt, nil
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read prompt: %w", err)
	}
	input := strings.TrimSpace(string(data))
	if input == "" {
		return "", fmt.Errorf("empty prompt on stdin")
	}
	return input, nil
}

// unlockCredentials retries loading SSH-encrypted credentials with the
// passphrase from CONVO_SSH_PASSPHRASE when the key is protected.
func unlockCredentials(cfg *config.Config) error {
	store := cfg.CredentialStore
	if store == nil || store.GetMethod() != config.SecuritySSHKey {
		return nil
	}
	passphrase := os.Getenv("CONVO_SSH_PASSPHRASE")
	if passphrase == "" {
		return nil
	}
	store.SetPassphrase(passphrase)
	if err := store.Load(cfg.DataDir()); err != nil {
		return fmt.Errorf("failed to unlock credentials: %w", err)
	}
	return nil
}

func setKey(cfg *config.Config, providerID string, stdin io.Reader) error {
	if _, ok := cfg.Provider(providerID); !ok {
		return fmt.Errorf("provider %q is not configured", providerID)
	}

	key, err := bufio.NewReader(stdin).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("failed to read API key: %w", err)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		cfg.CredentialStore.Delete(providerID)
	} else {
		cfg.CredentialStore.Set(providerID, key)
	}
	if err := cfg.CredentialStore.Save(cfg.DataDir()); err != nil {
		return fmt.Errorf("failed to save credentials: %w", err)
	}
	if key == "" {
		fmt.Printf("Removed API key for %s\n", providerID)
	} else {
		fmt.Printf("Stored API key for %s\n", providerID)
	}
	return nil
}

// listProviders prints every enabled provider that initializes cleanly.
func listProviders(cfg *config.Config, w io.Writer) error {
	providers := provider.InitializeProviders(cfg)
	if len(providers) == 0 {
		fmt.Fprintln(w, "No providers available")
		return nil
	}
	ids := make([]string, 0, len(providers))
	for id := range providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		marker := " "
		if id == cfg.DefaultProvider {
			marker = "*"
		}
		fmt.Fprintf(w, "%s %-12s %s\n", marker, id, providers[id].DefaultModel())
	}
	return nil
}

func listSessions(store *storage.SessionStorage, w io.Writer) error {
	sessions, err := store.List()
	if err != nil {
		return err
	}
	if len(sessions) == 0 {
		fmt.Fprintln(w, "No saved conversations")
		return nil
	}
	for _, s := range sessions {
		fmt.Fprintf(w, "%s  %s  %3d msgs  %s\n", s.ID, s.UpdatedAt.Format("2006-01-02 15:04"), s.MessageCount, s.Name)
	}
	return nil
}

func searchSessions(store *storage.SessionStorage, query string, w io.Writer) error {
	matches, err := storage.NewSearchIndex(store).SearchAllSessions(query)
	if err != nil {
		return err
	}
	for _, m := range matches {
		fmt.Fprintf(w, "%s  %-9s #%-3d %s: %s\n", m.SessionID, m.Role, m.MessageIndex, m.SessionName, m.Preview)
	}
	if len(matches) == 0 {
		fmt.Fprintf(w, "No saved messages contain %q\n", query)
	}
	return nil
}
