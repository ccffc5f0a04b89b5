// Session setup for CLI commands.
//
// Information Hiding:
// - Settings overrides, sandbox and tool registry wiring hidden
// - Credential export and provider construction hidden
// - Transcript storage lifecycle hidden behind Close

package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/richinex/shellagent/agent"
	"github.com/richinex/shellagent/config"
	"github.com/richinex/shellagent/credentials"
	"github.com/richinex/shellagent/internal/logger"
	"github.com/richinex/shellagent/llm"
	"github.com/richinex/shellagent/sandbox"
	"github.com/richinex/shellagent/storage"
	"github.com/richinex/shellagent/tools"
)

// newProvider builds the model provider for a key. Tests replace it.
var newProvider = createProvider

// environment is everything one CLI invocation needs to run turns.
type environment struct {
	settings config.Settings
	creds    *credentials.Store
	store    storage.TranscriptStorage
	session  *agent.Session
}

// loadSettings reads settings and applies command-line overrides.
func loadSettings(opts Options) (config.Settings, error) {
	settings, err := config.New(opts.Provider)
	if err != nil {
		return config.Settings{}, err
	}
	if opts.Model != "" {
		settings.LLM.Model = opts.Model
	}
	if opts.MaxIter > 0 {
		settings.Agent.MaxIterations = opts.MaxIter
	}
	if opts.Shell != "" {
		settings.Sandbox.Shell = opts.Shell
	}
	if opts.DBPath != "" {
		settings.Storage.Path = opts.DBPath
	}
	if opts.NoTranscript {
		settings.Storage.Path = ""
	}
	return settings, nil
}

func newEnvironment(opts Options) (*environment, error) {
	settings, err := loadSettings(opts)
	if err != nil {
		return nil, err
	}
	log := logger.Named("cli")

	env := &environment{settings: settings}
	if settings.CredentialsFile != "" {
		env.creds = credentials.NewStore(settings.CredentialsFile)
		if err := env.creds.Export(); err != nil {
			log.Warn("ignoring credentials file", "path", settings.CredentialsFile, "error", err)
		}
	}

	sb, registry, err := newToolset(settings)
	if err != nil {
		return nil, err
	}
	shell := sb.Shell()

	builder := agent.NewBuilder(registry).
		Config(agent.DefaultConfig(shell.Name)).
		MaxIterations(settings.Agent.MaxIterations)

	if apiKey := os.Getenv(settings.LLM.APIKeyEnv); apiKey != "" {
		provider, err := newProvider(settings, apiKey)
		if err != nil {
			return nil, err
		}
		builder.Client(llm.NewClient(provider))
	} else {
		log.Debug("no API key configured", "env", settings.LLM.APIKeyEnv)
	}

	if settings.Storage.Path != "" {
		store, err := storage.OpenSqlite(settings.Storage.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open transcript database: %w", err)
		}
		env.store = store
		builder.Recorder(store)
	}

	session, err := builder.Build()
	if err != nil {
		env.Close()
		return nil, err
	}
	env.session = session

	log.Debug("session ready",
		"session", session.ID(),
		"provider", settings.LLM.Provider,
		"model", settings.LLM.Model,
		"shell", shell.Name,
		"transcripts", settings.Storage.Path,
	)
	return env, nil
}

// setAPIKey persists key, exports it to this process and reconfigures the
// session with a fresh client. An empty key removes the stored key and
// leaves the session without a client. Either way the history is reset.
// Nothing changes when persisting fails, and the stored key is restored
// when the session cannot be reconfigured.
// Returns the file that was updated, or "" when nothing was persisted.
func (e *environment) setAPIKey(key string) (string, error) {
	key = strings.TrimSpace(key)
	if strings.ContainsAny(key, " \t\r\n") {
		return "", errors.New("API key cannot contain whitespace")
	}
	if e.session.Busy() {
		return "", agent.ErrTurnInProgress
	}

	var client *llm.Client
	if key != "" {
		provider, err := newProvider(e.settings, key)
		if err != nil {
			return "", err
		}
		client = llm.NewClient(provider)
	}

	envVar := e.settings.LLM.APIKeyEnv
	path := ""
	restore := func() {}
	if e.creds != nil {
		previous, err := e.creds.Get(envVar)
		if err != nil {
			return "", err
		}
		if err := e.creds.Set(envVar, key); err != nil {
			return "", err
		}
		path = e.creds.Path()
		restore = func() {
			if err := e.creds.Set(envVar, previous); err != nil {
				logger.Named("cli").Warn("failed to restore API key", "path", path, "error", err)
			}
		}
	}

	if err := e.session.Reconfigure(client); err != nil {
		restore()
		return "", err
	}

	var err error
	if key == "" {
		err = os.Unsetenv(envVar)
	} else {
		err = os.Setenv(envVar, key)
	}
	if err != nil {
		return "", fmt.Errorf("failed to update %s: %w", envVar, err)
	}
	return path, nil
}

// Close waits for a running turn and releases storage.
func (e *environment) Close() {
	if e.session != nil {
		e.session.Close()
	}
	if e.store != nil {
		if err := e.store.Close(); err != nil {
			logger.Named("cli").Warn("failed to close transcript database", "error", err)
		}
	}
}

// newToolset creates the sandbox and the registry of tools running in it.
func newToolset(settings config.Settings) (*sandbox.Sandbox, *tools.Registry, error) {
	shell, err := sandbox.ShellByName(settings.Sandbox.Shell)
	if err != nil {
		return nil, nil, err
	}
	sb := sandbox.New(sandbox.Config{
		Timeout: settings.Sandbox.Timeout,
		Shell:   shell,
	})
	registry, err := tools.WithDefaults(sb, sb.Shell().Name)
	if err != nil {
		return nil, nil, err
	}
	return sb, registry, nil
}

func createProvider(settings config.Settings, apiKey string) (llm.Provider, error) {
	providerType, err := llm.ParseProviderType(settings.LLM.Provider)
	if err != nil {
		return nil, err
	}

	return providerType.
		Model(settings.LLM.Model).
		MaxTokens(settings.LLM.MaxTokens).
		Temperature(float32(settings.LLM.Temperature)).
		APIKey(apiKey)
}

// openTranscripts opens the transcript database for browsing.
func openTranscripts(opts Options) (*storage.SqliteStorage, error) {
	settings, err := loadSettings(Options{Provider: opts.Provider, DBPath: opts.DBPath})
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(settings.Storage.Path); errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("no transcripts at %s", settings.Storage.Path)
	}
	store, err := storage.OpenSqlite(settings.Storage.Path)
	if err != nil {
		return nil, fmt.Errorf("failed to open transcript database: %w", err)
	}
	return store, nil
}
