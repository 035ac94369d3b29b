package commands

import (
	"errors"
	"fmt"
	"strings"

	"github.com/charmbracelet/huh"
	"github.com/spf13/cobra"

	"github.com/jholhewres/linegpt/pkg/linegpt/copilot"
	"github.com/jholhewres/linegpt/pkg/linegpt/credentials"
)

const defaultConfigPath = "config.yaml"

// newSetupCmd creates the `linegpt setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard that writes config.yaml.
Channel secrets go to the OS keyring when it is available and never
appear in the file in that case.

Examples:
  linegpt setup`,
		RunE: func(_ *cobra.Command, _ []string) error {
			path, err := runInteractiveSetup()
			if err != nil {
				if isAbort(err) {
					fmt.Println("Setup cancelled.")
					return nil
				}
				return err
			}
			fmt.Printf("\nConfiguration written to %s\n", path)
			fmt.Println("Start the bot with: linegpt serve")
			return nil
		},
	}
}

// setupAnswers collects the wizard input before it is applied to a Config.
type setupAnswers struct {
	name          string
	engine        string
	baseURL       string
	systemMessage string
	plainText     string
	address       string

	backend    string
	mongoURI   string
	sqlitePath string

	lineSecret   string
	lineToken    string
	discordToken string
	useKeyring   bool
}

// runInteractiveSetup guides the user through config creation and returns
// the path of the written file.
func runInteractiveSetup() (string, error) {
	cfg := copilot.DefaultConfig()
	keyringOK := copilot.KeyringAvailable()

	a := setupAnswers{
		name:          cfg.Name,
		engine:        cfg.Model.Engine,
		systemMessage: cfg.Memory.SystemMessage,
		plainText:     cfg.Chat.PlainText,
		address:       cfg.Gateway.Address,
		backend:       cfg.Credentials.Backend,
		sqlitePath:    cfg.Credentials.SQLitePath,
		useKeyring:    keyringOK,
	}

	form := huh.NewForm(
		huh.NewGroup(
			huh.NewNote().
				Title("linegpt setup").
				Description("Creates config.yaml. Every field can be changed later."),
			huh.NewInput().Title("Assistant name").Value(&a.name),
			huh.NewInput().Title("Chat model").Value(&a.engine).Validate(required("model")),
			huh.NewInput().
				Title("API base URL").
				Description("Leave empty for api.openai.com").
				Value(&a.baseURL),
			huh.NewText().Title("Default system message").Value(&a.systemMessage),
			huh.NewSelect[string]().
				Title("Messages without a command").
				Options(
					huh.NewOption("Ignore them", copilot.PlainTextDrop),
					huh.NewOption("Answer them like /Chat", copilot.PlainTextChat),
				).
				Value(&a.plainText),
		),

		huh.NewGroup(
			huh.NewInput().
				Title("LINE channel secret").
				EchoMode(huh.EchoModePassword).
				Value(&a.lineSecret),
			huh.NewInput().
				Title("LINE channel access token").
				EchoMode(huh.EchoModePassword).
				Value(&a.lineToken),
			huh.NewInput().
				Title("Discord bot token").
				Description("Optional").
				EchoMode(huh.EchoModePassword).
				Value(&a.discordToken),
			huh.NewConfirm().
				Title("Store these secrets in the OS keyring?").
				Value(&a.useKeyring),
			huh.NewInput().Title("Listen address").Value(&a.address).Validate(required("address")),
		),

		huh.NewGroup(
			huh.NewSelect[string]().
				Title("Where should registered API tokens be kept?").
				Options(
					huh.NewOption("JSON file (db.json)", credentials.BackendFile),
					huh.NewOption("Encrypted vault", credentials.BackendVault),
					huh.NewOption("SQLite", credentials.BackendSQLite),
					huh.NewOption("MongoDB", credentials.BackendMongo),
				).
				Value(&a.backend),
		),

		huh.NewGroup(
			huh.NewInput().Title("MongoDB URI").Value(&a.mongoURI).Validate(required("URI")),
		).WithHideFunc(func() bool { return a.backend != credentials.BackendMongo }),

		huh.NewGroup(
			huh.NewInput().Title("SQLite path").Value(&a.sqlitePath).Validate(required("path")),
		).WithHideFunc(func() bool { return a.backend != credentials.BackendSQLite }),
	)

	if err := form.Run(); err != nil {
		return "", err
	}

	if a.useKeyring && !keyringOK {
		fmt.Println("[!] OS keyring not available, secrets stay in config.yaml (mode 0600).")
		a.useKeyring = false
	}

	a.apply(cfg)
	if err := cfg.Validate(); err != nil {
		return "", err
	}
	if err := copilot.SaveConfigToFile(cfg, defaultConfigPath); err != nil {
		return "", err
	}
	return defaultConfigPath, nil
}

// apply copies the answers onto cfg. Secrets stored in the keyring are left
// out of the config.
func (a setupAnswers) apply(cfg *copilot.Config) {
	cfg.Name = strings.TrimSpace(a.name)
	cfg.Model.Engine = strings.TrimSpace(a.engine)
	cfg.Model.BaseURL = strings.TrimSpace(a.baseURL)
	cfg.Memory.SystemMessage = strings.TrimSpace(a.systemMessage)
	cfg.Chat.PlainText = a.plainText
	cfg.Gateway.Address = strings.TrimSpace(a.address)

	cfg.Credentials.Backend = a.backend
	cfg.Credentials.MongoURI = strings.TrimSpace(a.mongoURI)
	if a.sqlitePath != "" {
		cfg.Credentials.SQLitePath = a.sqlitePath
	}

	secrets := map[string]struct {
		value string
		dst   *string
	}{
		copilot.KeyringLineSecret:   {a.lineSecret, &cfg.Channels.LINE.ChannelSecret},
		copilot.KeyringLineToken:    {a.lineToken, &cfg.Channels.LINE.ChannelAccessToken},
		copilot.KeyringDiscordToken: {a.discordToken, &cfg.Channels.Discord.Token},
	}

	var errs []error
	for key, s := range secrets {
		value := strings.TrimSpace(s.value)
		if value == "" {
			continue
		}
		if a.useKeyring {
			if err := copilot.StoreKeyring(key, value); err != nil {
				errs = append(errs, fmt.Errorf("keyring %s: %w", key, err))
				*s.dst = value
			}
			continue
		}
		*s.dst = value
	}
	if len(errs) > 0 {
		fmt.Printf("[!] %v\n", errors.Join(errs...))
	}
}

func required(field string) func(string) error {
	return func(s string) error {
		if strings.TrimSpace(s) == "" {
			return fmt.Errorf("%s is required", field)
		}
		return nil
	}
}
