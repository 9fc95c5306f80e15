package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"github.com/stellarlinkco/circlebot/internal/circle"
	"github.com/stellarlinkco/circlebot/internal/config"
	"github.com/stellarlinkco/circlebot/internal/directory"
	"github.com/stellarlinkco/circlebot/internal/gateway"
	"github.com/stellarlinkco/circlebot/internal/store"
	"gopkg.in/yaml.v3"
)

// openStore opens the configured circle store (replaced in tests).
var openStore gateway.StoreFactory = store.Open

// circleFile is the YAML layout used by circles export and import.
type circleFile struct {
	Circles []circle.Circle `yaml:"circles"`
}

var rootCmd = &cobra.Command{
	Use:          "circlebot",
	Short:        "circlebot - Discord circle directory bot",
	SilenceUsage: true,
}

var gatewayCmd = &cobra.Command{
	Use:   "gateway",
	Short: "Start the bot (discord + cron + console + http)",
	RunE:  runGateway,
}

var onboardCmd = &cobra.Command{
	Use:   "onboard",
	Short: "Initialize config",
	RunE:  runOnboard,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show circlebot status",
	RunE:  runStatus,
}

var recacheCmd = &cobra.Command{
	Use:   "recache",
	Short: "Load every circle from the store and report the count",
	RunE:  runRecache,
}

var circlesCmd = &cobra.Command{
	Use:   "circles",
	Short: "Inspect and move the circle collection",
}

var circlesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored circles",
	RunE:  runCirclesList,
}

var circlesExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write the collection as YAML",
	RunE:  runCirclesExport,
}

var circlesImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Insert circles from a YAML file, skipping existing ids",
	Args:  cobra.ExactArgs(1),
	RunE:  runCirclesImport,
}

var exportOutput string

func init() {
	circlesExportCmd.Flags().StringVarP(&exportOutput, "output", "o", "", "Write to file instead of stdout")
	circlesCmd.AddCommand(circlesListCmd, circlesExportCmd, circlesImportCmd)
	rootCmd.AddCommand(gatewayCmd, onboardCmd, statusCmd, recacheCmd, circlesCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func runGateway(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	gw, err := gateway.New(cfg)
	if err != nil {
		return fmt.Errorf("create gateway: %w", err)
	}

	return gw.Run(cmdContext(cmd))
}

func runOnboard(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfgDir := config.ConfigDir()
	cfgPath := config.ConfigPath()

	if err := os.MkdirAll(filepath.Join(cfgDir, "data"), 0755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
		cfg := config.DefaultConfig()
		data, _ := json.MarshalIndent(cfg, "", "  ")
		if err := os.WriteFile(cfgPath, data, 0644); err != nil {
			return fmt.Errorf("write config: %w", err)
		}
		fmt.Fprintf(out, "Created config: %s\n", cfgPath)
	} else {
		fmt.Fprintf(out, "Config already exists: %s\n", cfgPath)
	}

	fmt.Fprintln(out, "\nNext steps:")
	fmt.Fprintf(out, "  1. Edit %s to set discord.guildId and circles.joinChannel\n", cfgPath)
	fmt.Fprintln(out, "  2. Set CIRCLEBOT_DISCORD_TOKEN to the bot token")
	fmt.Fprintln(out, "  3. Run 'circlebot recache' to check the store, then 'circlebot gateway'")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(out, "Config: error (%v)\n", err)
		return nil
	}

	fmt.Fprintf(out, "Config: %s\n", config.ConfigPath())
	fmt.Fprintf(out, "Guild: %s\n", valueOr(cfg.Discord.GuildID, "not set"))
	fmt.Fprintf(out, "Discord Token: %s\n", maskToken(cfg.Discord.Token))
	switch cfg.Store.Driver {
	case "mongo":
		fmt.Fprintf(out, "Store: mongo (%s/%s)\n", cfg.Store.Database, cfg.Store.Collection)
	default:
		fmt.Fprintf(out, "Store: %s (%s)\n", cfg.Store.Driver, cfg.Store.Path)
	}
	fmt.Fprintf(out, "Join Channel: %s\n", valueOr(cfg.Circles.JoinChannel, "not set"))
	fmt.Fprintf(out, "Recache: %s\n", valueOr(cfg.Circles.RecacheCron, "off"))
	fmt.Fprintf(out, "Repost: %s\n", valueOr(cfg.Circles.RepostCron, "off"))
	fmt.Fprintf(out, "Telegram: enabled=%v\n", cfg.Telegram.Enabled)
	fmt.Fprintf(out, "HTTP: enabled=%v addr=%s\n", cfg.HTTP.Enabled, cfg.HTTP.Addr)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(out, "Not ready: %v\n", err)
	}
	return nil
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func maskToken(token string) string {
	switch {
	case token == "":
		return "not set"
	case len(token) > 8:
		return token[:4] + "..." + token[len(token)-4:]
	default:
		return "set"
	}
}

// loadDirectory opens the store and fills a fresh directory from it. The
// caller closes the returned store.
func loadDirectory(ctx context.Context) (*directory.Service, store.Store, int, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, nil, 0, fmt.Errorf("load config: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		return nil, nil, 0, fmt.Errorf("open store: %w", err)
	}
	dir := directory.NewService(st, nil)
	n, err := dir.Recache(ctx)
	if err != nil {
		_ = st.Close()
		return nil, nil, 0, err
	}
	return dir, st, n, nil
}

func runRecache(cmd *cobra.Command, args []string) error {
	_, st, n, err := loadDirectory(cmdContext(cmd))
	if err != nil {
		return err
	}
	defer st.Close()

	fmt.Fprintf(cmd.OutOrStdout(), "Recached %d circles\n", n)
	return nil
}

func runCirclesList(cmd *cobra.Command, args []string) error {
	dir, st, _, err := loadDirectory(cmdContext(cmd))
	if err != nil {
		return err
	}
	defer st.Close()

	out := cmd.OutOrStdout()
	circles := dir.List()
	if len(circles) == 0 {
		fmt.Fprintln(out, "No circles stored.")
		return nil
	}
	for _, c := range circles {
		fmt.Fprintf(out, "%s  %s %s  #%s\n", c.ID, c.Emoji, c.Name, c.Channel)
	}
	return nil
}

func runCirclesExport(cmd *cobra.Command, args []string) error {
	dir, st, _, err := loadDirectory(cmdContext(cmd))
	if err != nil {
		return err
	}
	defer st.Close()

	data, err := yaml.Marshal(circleFile{Circles: dir.List()})
	if err != nil {
		return fmt.Errorf("encode circles: %w", err)
	}

	if exportOutput == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(exportOutput, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", exportOutput, err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "Exported %d circles to %s\n", len(dir.List()), exportOutput)
	return nil
}

func runCirclesImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", args[0], err)
	}
	var file circleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parse %s: %w", args[0], err)
	}

	ctx := cmdContext(cmd)
	dir, st, _, err := loadDirectory(ctx)
	if err != nil {
		return err
	}
	defer st.Close()

	imported, skipped, failed := importCircles(ctx, dir, file.Circles, cmd.ErrOrStderr())
	fmt.Fprintf(cmd.OutOrStdout(), "Imported %d circles, skipped %d existing, %d failed\n", imported, skipped, failed)
	if failed > 0 {
		return fmt.Errorf("%d circles failed to import", failed)
	}
	return nil
}

func importCircles(ctx context.Context, dir *directory.Service, circles []circle.Circle, errOut io.Writer) (imported, skipped, failed int) {
	for _, c := range circles {
		if _, err := dir.Resolve(c.ID); err == nil {
			skipped++
			continue
		}
		if err := circle.ValidateEmoji(c.Emoji); err != nil {
			fmt.Fprintf(errOut, "skip %s (%s): %v\n", c.ID, c.Name, err)
			failed++
			continue
		}
		if c.CreatedOn.IsZero() {
			c.CreatedOn = time.Now().UTC()
		}
		if err := dir.Create(ctx, c.Clone()); err != nil {
			fmt.Fprintf(errOut, "import %s (%s): %v\n", c.ID, c.Name, err)
			failed++
			continue
		}
		imported++
	}
	return imported, skipped, failed
}
