package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/spf13/cobra"

	"github.com/example/latentwalk/api-go/internal/client"
	"github.com/example/latentwalk/api-go/internal/config"
)

type commandContext struct {
	configFlag *string
	serverFlag *string
	apiKeyFlag *string

	configOnce sync.Once
	config     *config.Config
	configErr  error
}

func newCommandContext(configFlag, serverFlag, apiKeyFlag *string) *commandContext {
	return &commandContext{
		configFlag: configFlag,
		serverFlag: serverFlag,
		apiKeyFlag: apiKeyFlag,
	}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.configOnce.Do(func() {
		var path string
		if c.configFlag != nil {
			path = strings.TrimSpace(*c.configFlag)
		}
		cfg, _, _, err := config.Load(path)
		if err != nil {
			c.configErr = err
			return
		}
		c.config = cfg
	})
	return c.config, c.configErr
}

// serverURL resolves the API address: flag, then $LATENTWALK_SERVER, then the
// configured base URL or listen address.
func (c *commandContext) serverURL() (string, error) {
	if c.serverFlag != nil {
		if v := strings.TrimSpace(*c.serverFlag); v != "" {
			return v, nil
		}
	}
	if v := strings.TrimSpace(os.Getenv("LATENTWALK_SERVER")); v != "" {
		return v, nil
	}
	cfg, err := c.ensureConfig()
	if err != nil {
		return "", err
	}
	if cfg.Server.BaseURL != "" {
		return cfg.Server.BaseURL, nil
	}
	addr := cfg.Server.Addr
	if strings.HasPrefix(addr, ":") {
		addr = "localhost" + addr
	}
	return "http://" + addr, nil
}

func (c *commandContext) apiKey() string {
	if c.apiKeyFlag != nil {
		if v := strings.TrimSpace(*c.apiKeyFlag); v != "" {
			return v
		}
	}
	if cfg, err := c.ensureConfig(); err == nil {
		return cfg.Server.APIKey
	}
	return ""
}

func (c *commandContext) client() (*client.Client, error) {
	server, err := c.serverURL()
	if err != nil {
		return nil, fmt.Errorf("resolve server: %w", err)
	}
	return client.New(server, c.apiKey()), nil
}

func (c *commandContext) withClient(fn func(*client.Client) error) error {
	cl, err := c.client()
	if err != nil {
		return err
	}
	return fn(cl)
}

// writeJSON encodes v as indented JSON to the command's stdout.
func writeJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
